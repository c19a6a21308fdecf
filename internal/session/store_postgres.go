package session

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (carelink.sessions).
//
// The compare-and-set required by refresh rotation is a single guarded
// UPDATE: the WHERE clause carries the expected hash plus the liveness
// conditions, so only one of two racing rotations can affect a row.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Create inserts a new session row.
func (s *PostgresStore) Create(ctx context.Context, sess Session) error {
	var ip net.IP
	if sess.Device.IP != nil {
		ip = sess.Device.IP
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO carelink.sessions (
			id, user_id, role, refresh_token_hash,
			created_at, last_activity, expires_at, revoked_at,
			user_agent, ip, revocation_reason
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, NULL,
			$8, $9, NULL
		)
	`, sess.ID, sess.UserID, string(sess.Role), sess.RefreshTokenHash,
		sess.CreatedAt, sess.LastActivity, sess.ExpiresAt,
		nullIfEmpty(sess.Device.UserAgent), ip)
	return err
}

// GetByID loads a session row by ID.
func (s *PostgresStore) GetByID(ctx context.Context, sessionID string) (Session, error) {
	var (
		sess   Session
		role   string
		ua     *string
		reason *string
		ip     net.IP
	)

	err := s.pool.QueryRow(ctx, `
		SELECT
			id, user_id, role, refresh_token_hash,
			created_at, last_activity, expires_at, revoked_at,
			user_agent, ip, revocation_reason
		FROM carelink.sessions
		WHERE id = $1
	`, sessionID).Scan(
		&sess.ID,
		&sess.UserID,
		&role,
		&sess.RefreshTokenHash,
		&sess.CreatedAt,
		&sess.LastActivity,
		&sess.ExpiresAt,
		&sess.RevokedAt,
		&ua,
		&ip,
		&reason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}

	sess.Role = Role(role)
	if ua != nil {
		sess.Device.UserAgent = *ua
	}
	sess.Device.IP = ip
	if reason != nil {
		sess.RevocationReason = *reason
	}
	return sess, nil
}

// CompareAndRotateRefreshHash atomically swaps the stored refresh hash.
func (s *PostgresStore) CompareAndRotateRefreshHash(ctx context.Context, sessionID, expectedHash, newHash string, newExpiry, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE carelink.sessions
		SET
			refresh_token_hash = $3,
			last_activity = GREATEST(last_activity, $4),
			expires_at = $5
		WHERE id = $1
		  AND refresh_token_hash = $2
		  AND revoked_at IS NULL
		  AND expires_at > $4
	`, sessionID, expectedHash, newHash, now, newExpiry)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// TouchActivity advances last_activity (monotonic).
func (s *PostgresStore) TouchActivity(ctx context.Context, sessionID string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE carelink.sessions
		SET last_activity = GREATEST(last_activity, $2)
		WHERE id = $1
	`, sessionID, now)
	return err
}

// Revoke revokes a single session (idempotent).
func (s *PostgresStore) Revoke(ctx context.Context, sessionID string, now time.Time, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE carelink.sessions
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE id = $1
	`, sessionID, now, reason)
	return err
}

// RevokeAll revokes all sessions for a user (idempotent).
func (s *PostgresStore) RevokeAll(ctx context.Context, userID string, now time.Time, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE carelink.sessions
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE user_id = $1
	`, userID, now, reason)
	return err
}

// DeleteExpiredBefore removes sessions whose expiry precedes cutoff.
func (s *PostgresStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM carelink.sessions
		WHERE expires_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteInactiveBefore removes sessions idle since before cutoff.
func (s *PostgresStore) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM carelink.sessions
		WHERE last_activity < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
