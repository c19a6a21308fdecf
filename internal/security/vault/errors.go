package vault

import "errors"

// Public, stable errors for callers.
var (
	ErrKeyMissing = errors.New("vault key missing")
	ErrKeyInvalid = errors.New("vault key invalid")

	// ErrEncryptFailed is returned when sealing fails (nonce generation).
	ErrEncryptFailed = errors.New("vault encrypt failed")

	// ErrDecryptAuthFailed is returned for any authentication failure:
	// wrong associated data, corrupted ciphertext, or a bad auth tag.
	// Callers must treat it as tamper or corruption, never as empty data.
	ErrDecryptAuthFailed = errors.New("vault decrypt authentication failed")
)
