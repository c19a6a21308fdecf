package session

import (
	"errors"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

func testCodec(t *testing.T) TokenCodec {
	t.Helper()

	cfg := DefaultConfig()
	cfg.PasetoSecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()

	codec, err := NewPasetoV4Codec(cfg)
	if err != nil {
		t.Fatalf("NewPasetoV4Codec: %v", err)
	}
	return codec
}

func TestCodec_AccessRoundTrip(t *testing.T) {
	codec := testCodec(t)
	now := time.Now().UTC()

	tok, exp, err := codec.IssueAccess("user-1", "sess-1", RoleResponder, now)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if !exp.After(now) {
		t.Fatalf("expected exp after now")
	}

	claims, err := codec.VerifyAccess(tok, now.Add(time.Second))
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if claims.UserID != "user-1" || claims.SessionID != "sess-1" || claims.Role != RoleResponder {
		t.Fatalf("claims mismatch: %+v", claims)
	}
}

func TestCodec_AccessExpired(t *testing.T) {
	codec := testCodec(t)
	now := time.Now().UTC()

	tok, _, err := codec.IssueAccess("user-1", "sess-1", RolePatient, now)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	if _, err := codec.VerifyAccess(tok, now.Add(24*time.Hour)); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestCodec_AccessExpiredOnWallClock(t *testing.T) {
	codec := testCodec(t)

	// Issue a token whose lifetime already elapsed in real time, then verify
	// with the real clock. Expiry must surface as ErrTokenExpired, not as a
	// generic parse failure.
	issuedAt := time.Now().UTC().Add(-2 * time.Hour)
	tok, _, err := codec.IssueAccess("user-1", "sess-1", RolePatient, issuedAt)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	if _, err := codec.VerifyAccess(tok, time.Now().UTC()); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestCodec_Garbage(t *testing.T) {
	codec := testCodec(t)
	now := time.Now().UTC()

	for _, tok := range []string{"", "garbage", "v4.public.AAAA"} {
		if _, err := codec.VerifyAccess(tok, now); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", tok, err)
		}
	}
}

func TestCodec_WrongKeyRejected(t *testing.T) {
	issuing := testCodec(t)
	verifying := testCodec(t) // different keypair

	now := time.Now().UTC()
	tok, _, err := issuing.IssueAccess("user-1", "sess-1", RolePatient, now)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	if _, err := verifying.VerifyAccess(tok, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestCodec_PurposeSeparation(t *testing.T) {
	codec := testCodec(t)
	now := time.Now().UTC()

	access, _, err := codec.IssueAccess("user-1", "sess-1", RolePatient, now)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	refresh, err := codec.IssueRefresh("user-1", "sess-1", now, now.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}

	// Neither token kind may be presented as the other.
	if _, err := codec.VerifyRefresh(access, now.Add(time.Second)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access-as-refresh: expected ErrInvalidToken, got %v", err)
	}
	if _, err := codec.VerifyAccess(refresh, now.Add(time.Second)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh-as-access: expected ErrInvalidToken, got %v", err)
	}
}

func TestCodec_RefreshTokensDistinct(t *testing.T) {
	codec := testCodec(t)
	now := time.Now().UTC()
	exp := now.Add(24 * time.Hour)

	a, err := codec.IssueRefresh("user-1", "sess-1", now, exp)
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	b, err := codec.IssueRefresh("user-1", "sess-1", now, exp)
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	if a == b {
		t.Fatalf("refresh tokens for the same instant must still be distinct")
	}
}
