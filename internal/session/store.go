package session

import (
	"context"
	"net"
	"time"
)

// DeviceInfo describes the client device that owns a session.
type DeviceInfo struct {
	UserAgent string
	IP        net.IP
}

// Session is the durable record of one authenticated device/login.
type Session struct {
	ID               string
	UserID           string
	Role             Role
	Device           DeviceInfo
	RefreshTokenHash string
	CreatedAt        time.Time
	LastActivity     time.Time
	ExpiresAt        time.Time
	RevokedAt        *time.Time
	RevocationReason string
}

// Revoked reports whether the session has been revoked.
func (s Session) Revoked() bool { return s.RevokedAt != nil }

// Store abstracts persistence for session state.
//
// CompareAndRotateRefreshHash is the rotation-safety primitive: the swap of
// the stored refresh hash must be a single atomic compare-and-set per
// session, so that two racing rotations can never both succeed.
type Store interface {
	// Create inserts a new session record.
	Create(ctx context.Context, s Session) error

	// GetByID loads a session by ID.
	GetByID(ctx context.Context, sessionID string) (Session, error)

	// CompareAndRotateRefreshHash atomically replaces the stored refresh
	// hash iff it still equals expectedHash and the session is live
	// (non-revoked, unexpired at "now"). On success it also advances
	// LastActivity to now and ExpiresAt to newExpiry. Returns false with a
	// nil error when the compare fails or the record is gone.
	CompareAndRotateRefreshHash(ctx context.Context, sessionID, expectedHash, newHash string, newExpiry, now time.Time) (bool, error)

	// TouchActivity advances LastActivity (monotonically; an older
	// timestamp never moves it backwards).
	TouchActivity(ctx context.Context, sessionID string, now time.Time) error

	// Revoke marks a single session revoked (idempotent).
	Revoke(ctx context.Context, sessionID string, now time.Time, reason string) error

	// RevokeAll marks every session of a user revoked (idempotent).
	RevokeAll(ctx context.Context, userID string, now time.Time, reason string) error

	// DeleteExpiredBefore removes sessions whose ExpiresAt precedes cutoff
	// and returns the number deleted.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// DeleteInactiveBefore removes sessions whose LastActivity precedes
	// cutoff, regardless of revocation state, and returns the number deleted.
	DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
