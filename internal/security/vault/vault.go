package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeyBytes is the required key length.
const KeyBytes = chacha20poly1305.KeySize

// Sealed is the at-rest storage form of an encrypted payload.
// All three fields are required to decrypt.
type Sealed struct {
	CiphertextHex string `json:"ciphertext"`
	NonceHex      string `json:"nonce"`
	AuthTagHex    string `json:"auth_tag"`
}

// Vault seals and opens payloads with a single symmetric key.
type Vault struct {
	aead cipher.AEAD
}

// New constructs a Vault from a hex-encoded 32-byte key.
func New(keyHex string) (*Vault, error) {
	keyHex = strings.TrimSpace(keyHex)
	if keyHex == "" {
		return nil, ErrKeyMissing
	}

	key, err := hex.DecodeString(keyHex)
	if err != nil || len(key) != KeyBytes {
		return nil, ErrKeyInvalid
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, ErrKeyInvalid
	}

	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce, binding
// associatedData into the authentication tag.
func (v *Vault) Encrypt(plaintext, associatedData []byte) (Sealed, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Sealed{}, ErrEncryptFailed
	}

	out := v.aead.Seal(nil, nonce, plaintext, associatedData)

	// Seal appends the Poly1305 tag; store it separately per the at-rest contract.
	tagAt := len(out) - v.aead.Overhead()
	return Sealed{
		CiphertextHex: hex.EncodeToString(out[:tagAt]),
		NonceHex:      hex.EncodeToString(nonce),
		AuthTagHex:    hex.EncodeToString(out[tagAt:]),
	}, nil
}

// Decrypt opens a sealed payload. associatedData must match what was used
// at encryption time; any mismatch, bit flip, or truncation returns
// ErrDecryptAuthFailed with no partial plaintext.
func (v *Vault) Decrypt(s Sealed, associatedData []byte) ([]byte, error) {
	ciphertext, err := hex.DecodeString(s.CiphertextHex)
	if err != nil {
		return nil, ErrDecryptAuthFailed
	}
	nonce, err := hex.DecodeString(s.NonceHex)
	if err != nil || len(nonce) != v.aead.NonceSize() {
		return nil, ErrDecryptAuthFailed
	}
	tag, err := hex.DecodeString(s.AuthTagHex)
	if err != nil || len(tag) != v.aead.Overhead() {
		return nil, ErrDecryptAuthFailed
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := v.aead.Open(nil, nonce, sealed, associatedData)
	if err != nil {
		return nil, ErrDecryptAuthFailed
	}
	return plaintext, nil
}
