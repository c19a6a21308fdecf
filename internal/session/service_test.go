package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

func testConfig(t *testing.T) Config {
	t.Helper()

	cfg := DefaultConfig()
	cfg.PasetoSecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	cfg.RefreshHMACKey = []byte("0123456789abcdef0123456789abcdef")
	return cfg
}

func testService(t *testing.T, cfg Config) (*Service, *MemoryStore) {
	t.Helper()

	codec, err := NewPasetoV4Codec(cfg)
	if err != nil {
		t.Fatalf("NewPasetoV4Codec: %v", err)
	}
	store := NewMemoryStore()
	return NewService(cfg, store, codec, nil), store
}

func TestIssueAndVerifyAccess(t *testing.T) {
	cfg := testConfig(t)
	svc, _ := testService(t, cfg)

	ctx := context.Background()
	now := time.Now().UTC()

	issued, err := svc.Issue(ctx, now, "user-1", RolePatient, DeviceInfo{UserAgent: "test-agent"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if issued.RefreshToken == "" || issued.AccessToken == "" {
		t.Fatalf("expected both tokens")
	}

	claims, err := svc.VerifyAccess(ctx, issued.AccessToken, now.Add(time.Second))
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if claims.UserID != "user-1" || claims.SessionID != issued.SessionID {
		t.Fatalf("claims mismatch: %+v", claims)
	}
	if claims.Role != RolePatient {
		t.Fatalf("expected patient role, got %q", claims.Role)
	}
}

func TestVerifyAccess_RevokedSession(t *testing.T) {
	cfg := testConfig(t)
	svc, _ := testService(t, cfg)

	ctx := context.Background()
	now := time.Now().UTC()

	issued, err := svc.Issue(ctx, now, "user-1", RoleProvider, DeviceInfo{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := svc.Revoke(ctx, now, issued.SessionID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	// Token is cryptographically valid but the session is gone.
	if _, err := svc.VerifyAccess(ctx, issued.AccessToken, now.Add(time.Second)); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
}

func TestVerifyAccess_DeletedSession(t *testing.T) {
	cfg := testConfig(t)
	svc, store := testService(t, cfg)

	ctx := context.Background()
	now := time.Now().UTC()

	issued, err := svc.Issue(ctx, now, "user-1", RolePatient, DeviceInfo{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := store.DeleteExpiredBefore(ctx, now.Add(cfg.RefreshTokenTTL+time.Hour)); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := svc.VerifyAccess(ctx, issued.AccessToken, now.Add(time.Second)); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRefresh_RotatesAndInvalidatesOldToken(t *testing.T) {
	cfg := testConfig(t)
	svc, store := testService(t, cfg)

	ctx := context.Background()
	now := time.Now().UTC()

	issued, err := svc.Issue(ctx, now, "user-1", RolePatient, DeviceInfo{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	rotated, err := svc.Refresh(ctx, now.Add(time.Minute), issued.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rotated.SessionID != issued.SessionID {
		t.Fatalf("rotation must keep the session: got %s want %s", rotated.SessionID, issued.SessionID)
	}
	if rotated.RefreshToken == issued.RefreshToken {
		t.Fatalf("refresh token must change on rotation")
	}

	// Reusing the already-rotated token is a theft signal.
	if _, err := svc.Refresh(ctx, now.Add(2*time.Minute), issued.RefreshToken); !errors.Is(err, ErrRefreshReuseDetected) {
		t.Fatalf("expected ErrRefreshReuseDetected, got %v", err)
	}

	row, err := store.GetByID(ctx, issued.SessionID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !row.Revoked() {
		t.Fatalf("session must be revoked after reuse detection")
	}

	// The new pair dies with the session too.
	if _, err := svc.Refresh(ctx, now.Add(3*time.Minute), rotated.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
}

func TestRefresh_ReuseRevokesAllWhenEscalated(t *testing.T) {
	cfg := testConfig(t)
	cfg.RevokeAllOnReuse = true
	svc, store := testService(t, cfg)

	ctx := context.Background()
	now := time.Now().UTC()

	first, err := svc.Issue(ctx, now, "user-1", RolePatient, DeviceInfo{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	second, err := svc.Issue(ctx, now, "user-1", RolePatient, DeviceInfo{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := svc.Refresh(ctx, now.Add(time.Minute), first.RefreshToken); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, err := svc.Refresh(ctx, now.Add(2*time.Minute), first.RefreshToken); !errors.Is(err, ErrRefreshReuseDetected) {
		t.Fatalf("expected ErrRefreshReuseDetected, got %v", err)
	}

	for _, id := range []string{first.SessionID, second.SessionID} {
		row, err := store.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID(%s): %v", id, err)
		}
		if !row.Revoked() {
			t.Fatalf("session %s must be revoked under escalation policy", id)
		}
	}
}

func TestRefresh_ConcurrentSameToken_ExactlyOneWins(t *testing.T) {
	cfg := testConfig(t)
	svc, _ := testService(t, cfg)

	ctx := context.Background()
	now := time.Now().UTC()

	issued, err := svc.Issue(ctx, now, "user-1", RolePatient, DeviceInfo{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	const racers = 8
	var wg sync.WaitGroup
	results := make([]error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.Refresh(ctx, now.Add(time.Minute), issued.RefreshToken)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		if !errors.Is(err, ErrRefreshReuseDetected) && !errors.Is(err, ErrSessionRevoked) {
			t.Fatalf("unexpected loser error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("exactly one refresh must win, got %d", wins)
	}
}

func TestRefresh_RacingDeletionFails(t *testing.T) {
	cfg := testConfig(t)
	svc, store := testService(t, cfg)

	ctx := context.Background()
	now := time.Now().UTC()

	issued, err := svc.Issue(ctx, now, "user-1", RolePatient, DeviceInfo{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Simulate the sweeper deleting the record mid-refresh.
	if _, err := store.DeleteExpiredBefore(ctx, now.Add(cfg.RefreshTokenTTL+time.Hour)); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := svc.Refresh(ctx, now.Add(time.Minute), issued.RefreshToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRefresh_ExpiredSession(t *testing.T) {
	cfg := testConfig(t)
	svc, _ := testService(t, cfg)

	ctx := context.Background()
	now := time.Now().UTC()

	issued, err := svc.Issue(ctx, now, "user-1", RolePatient, DeviceInfo{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	late := now.Add(cfg.RefreshTokenTTL + time.Hour)
	_, err = svc.Refresh(ctx, late, issued.RefreshToken)
	if !errors.Is(err, ErrTokenExpired) && !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected an expiry error, got %v", err)
	}
}

func TestRevoke_Idempotent(t *testing.T) {
	cfg := testConfig(t)
	svc, store := testService(t, cfg)

	ctx := context.Background()
	now := time.Now().UTC()

	issued, err := svc.Issue(ctx, now, "user-1", RolePatient, DeviceInfo{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := svc.Revoke(ctx, now, issued.SessionID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := svc.Revoke(ctx, now.Add(time.Hour), issued.SessionID); err != nil {
		t.Fatalf("second Revoke: %v", err)
	}

	row, err := store.GetByID(ctx, issued.SessionID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if row.RevokedAt == nil || !row.RevokedAt.Equal(now) {
		t.Fatalf("first revocation timestamp must stick, got %v", row.RevokedAt)
	}
}
