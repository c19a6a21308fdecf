package vault

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"
)

const testKeyHex = "8f3a1c9b0d4e6f2a7b5c8d9e0f1a2b3c4d5e6f708192a3b4c5d6e7f809102132"

func mustVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New(testKeyHex)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v
}

func TestNew_KeyValidation(t *testing.T) {
	if _, err := New(""); err != ErrKeyMissing {
		t.Fatalf("expected ErrKeyMissing, got %v", err)
	}
	if _, err := New("not-hex"); err != ErrKeyInvalid {
		t.Fatalf("expected ErrKeyInvalid, got %v", err)
	}
	if _, err := New("abcd"); err != ErrKeyInvalid {
		t.Fatalf("expected ErrKeyInvalid for short key, got %v", err)
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	v := mustVault(t)
	ad := []byte("health-data")

	cases := [][]byte{
		nil,
		[]byte("x"),
		[]byte(`{"symptom":"fever","severity":7}`),
		bytes.Repeat([]byte{0x00, 0xff}, 4096),
	}

	for _, plaintext := range cases {
		sealed, err := v.Encrypt(plaintext, ad)
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}

		got, err := v.Decrypt(sealed, ad)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Fatalf("round trip mismatch: len(got)=%d len(want)=%d", len(got), len(plaintext))
		}
	}
}

func TestEncrypt_FreshNoncePerCall(t *testing.T) {
	v := mustVault(t)

	a, err := v.Encrypt([]byte("same input"), []byte("health-data"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	b, err := v.Encrypt([]byte("same input"), []byte("health-data"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if a.NonceHex == b.NonceHex {
		t.Fatalf("nonces must be unique per call")
	}
	if a.CiphertextHex == b.CiphertextHex {
		t.Fatalf("ciphertexts under distinct nonces must differ")
	}
}

func TestDecrypt_WrongAssociatedData(t *testing.T) {
	v := mustVault(t)

	sealed, err := v.Encrypt([]byte("patient record"), []byte("health-data"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := v.Decrypt(sealed, []byte("chat-data")); err != ErrDecryptAuthFailed {
		t.Fatalf("expected ErrDecryptAuthFailed, got %v", err)
	}
}

func TestDecrypt_FlippedCiphertextBit(t *testing.T) {
	v := mustVault(t)

	sealed, err := v.Encrypt([]byte("patient record"), []byte("health-data"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	raw, err := hex.DecodeString(sealed.CiphertextHex)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	raw[0] ^= 0x01
	sealed.CiphertextHex = hex.EncodeToString(raw)

	if _, err := v.Decrypt(sealed, []byte("health-data")); err != ErrDecryptAuthFailed {
		t.Fatalf("expected ErrDecryptAuthFailed, got %v", err)
	}
}

func TestDecrypt_WrongAuthTag(t *testing.T) {
	v := mustVault(t)

	sealed, err := v.Encrypt([]byte("patient record"), []byte("health-data"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	sealed.AuthTagHex = strings.Repeat("00", len(sealed.AuthTagHex)/2)
	if _, err := v.Decrypt(sealed, []byte("health-data")); err != ErrDecryptAuthFailed {
		t.Fatalf("expected ErrDecryptAuthFailed, got %v", err)
	}
}

func TestDecrypt_MalformedTriple(t *testing.T) {
	v := mustVault(t)

	bad := []Sealed{
		{CiphertextHex: "zz", NonceHex: strings.Repeat("00", 24), AuthTagHex: strings.Repeat("00", 16)},
		{CiphertextHex: "", NonceHex: "00", AuthTagHex: strings.Repeat("00", 16)},
		{CiphertextHex: "", NonceHex: strings.Repeat("00", 24), AuthTagHex: "00"},
	}
	for i, s := range bad {
		if _, err := v.Decrypt(s, []byte("health-data")); err != ErrDecryptAuthFailed {
			t.Fatalf("case %d: expected ErrDecryptAuthFailed, got %v", i, err)
		}
	}
}
