// Package token provides token material primitives for carelink.
//
// It is the single source of truth for refresh-token hashing and for
// generating opaque secrets (refresh entropy, invite and reset tokens).
//
// Design goals:
//   - Refresh hashes are HMAC-SHA256 keyed by an explicit config value.
//     The key is passed in by the caller; this package never reads
//     ambient process state.
//   - Stable 64-char hex output for storage and constant-time comparison.
package token
