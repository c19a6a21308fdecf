package session

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_CASBasics(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	seedSession(t, store, "s1", now.Add(time.Hour), now)

	ok, err := store.CompareAndRotateRefreshHash(ctx, "s1", "hash-s1", "hash-2", now.Add(2*time.Hour), now)
	if err != nil || !ok {
		t.Fatalf("expected CAS success, ok=%v err=%v", ok, err)
	}

	// Stale expectation fails.
	ok, err = store.CompareAndRotateRefreshHash(ctx, "s1", "hash-s1", "hash-3", now.Add(2*time.Hour), now)
	if err != nil {
		t.Fatalf("CAS: %v", err)
	}
	if ok {
		t.Fatalf("stale expected hash must not rotate")
	}

	row, err := store.GetByID(ctx, "s1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if row.RefreshTokenHash != "hash-2" {
		t.Fatalf("hash must be the first rotation's value, got %q", row.RefreshTokenHash)
	}
}

func TestMemoryStore_CASRejectsRevokedAndExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	seedSession(t, store, "revoked", now.Add(time.Hour), now)
	seedSession(t, store, "expired", now.Add(-time.Minute), now)

	if err := store.Revoke(ctx, "revoked", now, "logout"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	if ok, _ := store.CompareAndRotateRefreshHash(ctx, "revoked", "hash-revoked", "x", now.Add(time.Hour), now); ok {
		t.Fatalf("revoked session must not rotate")
	}
	if ok, _ := store.CompareAndRotateRefreshHash(ctx, "expired", "hash-expired", "x", now.Add(time.Hour), now); ok {
		t.Fatalf("expired session must not rotate")
	}
	if ok, _ := store.CompareAndRotateRefreshHash(ctx, "missing", "x", "y", now.Add(time.Hour), now); ok {
		t.Fatalf("missing session must not rotate")
	}
}

func TestMemoryStore_CASConcurrent_SingleWinner(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	seedSession(t, store, "s1", now.Add(time.Hour), now)

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan int, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := store.CompareAndRotateRefreshHash(ctx, "s1", "hash-s1", "new", now.Add(2*time.Hour), now)
			if err != nil {
				t.Errorf("CAS: %v", err)
				return
			}
			if ok {
				wins <- i
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	n := 0
	for range wins {
		n++
	}
	if n != 1 {
		t.Fatalf("exactly one CAS must win, got %d", n)
	}
}

func TestMemoryStore_TouchActivityMonotonic(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	seedSession(t, store, "s1", now.Add(time.Hour), now)

	later := now.Add(time.Minute)
	if err := store.TouchActivity(ctx, "s1", later); err != nil {
		t.Fatalf("TouchActivity: %v", err)
	}
	// An older timestamp must never move LastActivity backwards.
	if err := store.TouchActivity(ctx, "s1", now.Add(-time.Minute)); err != nil {
		t.Fatalf("TouchActivity: %v", err)
	}

	row, err := store.GetByID(ctx, "s1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !row.LastActivity.Equal(later) {
		t.Fatalf("LastActivity regressed: %v", row.LastActivity)
	}
}
