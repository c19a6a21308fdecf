package session

import "errors"

var (
	// ErrInvalidToken is returned when a token fails signature or structural checks.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when a token's signature is valid but its
	// expiry has passed.
	ErrTokenExpired = errors.New("token expired")

	// ErrSessionNotFound is returned when no session backs the presented token.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when the backing session is expired.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionRevoked is returned when the backing session has been revoked.
	ErrSessionRevoked = errors.New("session revoked")

	// ErrRefreshReuseDetected is returned when an already-rotated refresh
	// token is presented again. The implicated session is revoked as a side
	// effect before this error surfaces.
	ErrRefreshReuseDetected = errors.New("refresh token reuse detected")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid session config")
)
