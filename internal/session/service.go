package session

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"carelink/internal/security/token"
)

// Service implements the high-level session operations for carelink.
//
// It issues token pairs, validates access tokens against live session
// state, supports per-session and per-user revocation, and performs
// refresh rotation with reuse detection through the store's atomic
// compare-and-set.
type Service struct {
	cfg   Config
	codec TokenCodec
	store Store
	log   *slog.Logger
}

// Issued is the result of issuing or rotating a session.
type Issued struct {
	SessionID    string
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

// NewService constructs a Service.
func NewService(cfg Config, store Store, codec TokenCodec, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{cfg: cfg, store: store, codec: codec, log: log}
}

// Issue creates a new session record and returns a fresh token pair.
//
// The raw refresh token is returned exactly once; only its HMAC hash is
// persisted.
func (s *Service) Issue(ctx context.Context, now time.Time, userID string, role Role, dev DeviceInfo) (Issued, error) {
	sessionID := ulid.Make().String()
	refreshExp := now.Add(s.cfg.RefreshTokenTTL)

	refreshToken, err := s.codec.IssueRefresh(userID, sessionID, now, refreshExp)
	if err != nil {
		return Issued{}, err
	}

	sess := Session{
		ID:               sessionID,
		UserID:           userID,
		Role:             role,
		Device:           dev,
		RefreshTokenHash: token.HashHMACSHA256Hex(refreshToken, s.cfg.RefreshHMACKey),
		CreatedAt:        now,
		LastActivity:     now,
		ExpiresAt:        refreshExp,
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return Issued{}, err
	}

	accessToken, accessExp, err := s.codec.IssueAccess(userID, sessionID, role, now)
	if err != nil {
		return Issued{}, err
	}

	return Issued{
		SessionID:    sessionID,
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: refreshToken,
		RefreshExp:   refreshExp,
	}, nil
}

// VerifyAccess verifies an access token and ensures the backing session is
// still live. A cryptographically valid token is not sufficient on its own:
// a revoked or deleted session rejects it.
func (s *Service) VerifyAccess(ctx context.Context, tok string, now time.Time) (AccessClaims, error) {
	claims, err := s.codec.VerifyAccess(tok, now)
	if err != nil {
		return AccessClaims{}, err
	}

	row, err := s.store.GetByID(ctx, claims.SessionID)
	if err != nil {
		return AccessClaims{}, err
	}

	if row.UserID != claims.UserID {
		return AccessClaims{}, ErrInvalidToken
	}
	if row.Revoked() {
		return AccessClaims{}, ErrSessionRevoked
	}
	if !row.ExpiresAt.After(now) {
		return AccessClaims{}, ErrSessionExpired
	}

	return claims, nil
}

// Refresh rotates a refresh token.
//
// Security model:
//   - The session is located from the signed claims, then the raw token's
//     HMAC hash is compared against the stored hash.
//   - A mismatch means an already-rotated token was presented again: the
//     session (or, by policy, all the user's sessions) is revoked and
//     ErrRefreshReuseDetected surfaces. Reuse must never silently succeed.
//   - A matching live token is rotated through a single compare-and-set on
//     the stored hash; of two racing refreshes exactly one wins, the loser
//     is handled as reuse.
//   - A rotation racing a sweeper deletion resolves to ErrSessionNotFound.
func (s *Service) Refresh(ctx context.Context, now time.Time, rawRefreshToken string) (Issued, error) {
	rawRefreshToken = strings.TrimSpace(rawRefreshToken)
	if rawRefreshToken == "" || len(rawRefreshToken) > 4096 {
		return Issued{}, ErrInvalidToken
	}

	claims, err := s.codec.VerifyRefresh(rawRefreshToken, now)
	if err != nil {
		return Issued{}, err
	}

	row, err := s.store.GetByID(ctx, claims.SessionID)
	if err != nil {
		return Issued{}, err
	}

	if row.UserID != claims.UserID {
		return Issued{}, ErrInvalidToken
	}
	if row.Revoked() {
		return Issued{}, ErrSessionRevoked
	}
	if !row.ExpiresAt.After(now) {
		return Issued{}, ErrSessionExpired
	}

	presentedHash := token.HashHMACSHA256Hex(rawRefreshToken, s.cfg.RefreshHMACKey)
	if !token.EqualHex(presentedHash, row.RefreshTokenHash) {
		return Issued{}, s.handleReuse(ctx, now, row)
	}

	newExp := now.Add(s.cfg.RefreshTokenTTL)
	newRefreshToken, err := s.codec.IssueRefresh(row.UserID, row.ID, now, newExp)
	if err != nil {
		return Issued{}, err
	}
	newHash := token.HashHMACSHA256Hex(newRefreshToken, s.cfg.RefreshHMACKey)

	ok, err := s.store.CompareAndRotateRefreshHash(ctx, row.ID, presentedHash, newHash, newExp, now)
	if err != nil {
		return Issued{}, err
	}
	if !ok {
		// Either a concurrent refresh won the swap (the token we hold is
		// now rotated-out: reuse) or the sweeper deleted the record.
		if _, getErr := s.store.GetByID(ctx, row.ID); getErr != nil {
			return Issued{}, getErr
		}
		return Issued{}, s.handleReuse(ctx, now, row)
	}

	accessToken, accessExp, err := s.codec.IssueAccess(row.UserID, row.ID, row.Role, now)
	if err != nil {
		return Issued{}, err
	}

	return Issued{
		SessionID:    row.ID,
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: newRefreshToken,
		RefreshExp:   newExp,
	}, nil
}

// handleReuse revokes the implicated session (or all of the user's
// sessions under the escalation policy), records the security event, and
// returns ErrRefreshReuseDetected.
func (s *Service) handleReuse(ctx context.Context, now time.Time, row Session) error {
	refreshReuseTotal.Inc()
	s.log.Warn("session.refresh.reuse_detected",
		"audit", true,
		"session_id", row.ID,
		"user_id", row.UserID,
		"revoke_all", s.cfg.RevokeAllOnReuse,
	)

	var err error
	if s.cfg.RevokeAllOnReuse {
		err = s.store.RevokeAll(ctx, row.UserID, now, "reuse_detected")
	} else {
		err = s.store.Revoke(ctx, row.ID, now, "reuse_detected")
	}
	if err != nil {
		s.log.Error("session.refresh.reuse_revoke.fail", "session_id", row.ID, "err", err)
	}

	return ErrRefreshReuseDetected
}

// Revoke revokes a single session (e.g. logout from one device). Idempotent.
func (s *Service) Revoke(ctx context.Context, now time.Time, sessionID string) error {
	return s.store.Revoke(ctx, sessionID, now, "logout")
}

// RevokeAll revokes all sessions for a user (logout everywhere). Idempotent.
func (s *Service) RevokeAll(ctx context.Context, now time.Time, userID string) error {
	return s.store.RevokeAll(ctx, userID, now, "logout")
}

// Touch advances LastActivity for a session (best-effort).
func (s *Service) Touch(ctx context.Context, now time.Time, sessionID string) error {
	return s.store.TouchActivity(ctx, sessionID, now)
}
