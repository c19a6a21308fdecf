package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a mutex-serialized Store used by tests and DB-less dev
// mode. The single lock makes CompareAndRotateRefreshHash trivially atomic.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

// NewMemoryStore constructs an in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

// Create inserts a new session record.
func (m *MemoryStore) Create(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

// GetByID loads a session by ID.
func (m *MemoryStore) GetByID(_ context.Context, sessionID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

// CompareAndRotateRefreshHash swaps the stored hash iff it still equals
// expectedHash and the session is live at "now".
func (m *MemoryStore) CompareAndRotateRefreshHash(_ context.Context, sessionID, expectedHash, newHash string, newExpiry, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return false, nil
	}
	if s.Revoked() || !s.ExpiresAt.After(now) || s.RefreshTokenHash != expectedHash {
		return false, nil
	}

	s.RefreshTokenHash = newHash
	s.ExpiresAt = newExpiry
	if now.After(s.LastActivity) {
		s.LastActivity = now
	}
	m.sessions[sessionID] = s
	return true, nil
}

// TouchActivity advances LastActivity, never moving it backwards.
func (m *MemoryStore) TouchActivity(_ context.Context, sessionID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if now.After(s.LastActivity) {
		s.LastActivity = now
		m.sessions[sessionID] = s
	}
	return nil
}

// Revoke marks a single session revoked (idempotent).
func (m *MemoryStore) Revoke(_ context.Context, sessionID string, now time.Time, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	if s.RevokedAt == nil {
		t := now
		s.RevokedAt = &t
		s.RevocationReason = reason
		m.sessions[sessionID] = s
	}
	return nil
}

// RevokeAll marks every session of a user revoked (idempotent).
func (m *MemoryStore) RevokeAll(_ context.Context, userID string, now time.Time, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range m.sessions {
		if s.UserID != userID || s.RevokedAt != nil {
			continue
		}
		t := now
		s.RevokedAt = &t
		s.RevocationReason = reason
		m.sessions[id] = s
	}
	return nil
}

// DeleteExpiredBefore removes sessions whose ExpiresAt precedes cutoff.
func (m *MemoryStore) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, s := range m.sessions {
		if s.ExpiresAt.Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// DeleteInactiveBefore removes sessions whose LastActivity precedes cutoff.
func (m *MemoryStore) DeleteInactiveBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, s := range m.sessions {
		if s.LastActivity.Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}
