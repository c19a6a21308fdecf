// Package session implements carelink's session and credential lifecycle.
//
// It provides a multi-device session model with refresh-token rotation,
// reuse detection, per-session/per-user revocation, and a background
// sweeper that evicts expired and stale sessions.
//
// Access tokens are PASETO v4.public and short-lived. Refresh tokens are
// PASETO v4.public as well (so rotation can locate the session from the
// signed claims) but the server keeps only an HMAC-SHA256 hash of the raw
// string; presenting a raw token whose hash no longer matches the stored
// record is treated as a theft signal.
//
// Rotation safety rests on a single atomic compare-and-set of the stored
// refresh hash: of two racing refreshes with the same raw token, exactly
// one can win.
package session
