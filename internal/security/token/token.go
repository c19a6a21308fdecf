package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

// MinHMACKeyBytes is the minimum accepted HMAC key length.
const MinHMACKeyBytes = 32

// NewOpaqueSecret returns a cryptographically random secret suitable for
// refresh tokens and similar bearer material. It is URL-safe (base64url,
// no padding) and SHOULD be stored only on the client; the server keeps
// a hash only.
func NewOpaqueSecret(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = 32
	}

	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewRandomHex returns a secure random hex string of length 2*nBytes,
// used for invite and password-reset tokens.
func NewRandomHex(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = 16
	}

	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
// The output is always 64 hex chars.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// ValidateHMACKey enforces the minimum key length policy.
func ValidateHMACKey(key []byte) error {
	if len(key) == 0 {
		return ErrHMACKeyMissing
	}
	if len(key) < MinHMACKeyBytes {
		return ErrHMACKeyTooShort
	}
	return nil
}

// EqualHex compares two hex digests in constant time.
func EqualHex(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
