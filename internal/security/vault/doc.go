// Package vault provides authenticated encryption for sensitive payloads
// at rest (health records, symptom notes, uploaded report metadata).
//
// Ciphertexts are XChaCha20-Poly1305 with the caller's associated-data tag
// bound into the integrity check, so a payload sealed under one context
// (e.g. "health-data") can never be replayed into another. The stored form
// is a {ciphertext, nonce, auth_tag} hex triple; all three are required to
// decrypt and any failure is surfaced as a tamper signal, never ignored.
//
// The key is an explicit 32-byte configuration value. Construction fails
// when it is absent or malformed; there is no ambient fallback.
package vault
