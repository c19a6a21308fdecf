package session

import (
	"os"
	"strconv"
	"time"

	"carelink/internal/security/token"
)

// Config defines runtime configuration for the session subsystem.
//
// It controls token TTLs, clock skew tolerance, the refresh-hash HMAC key,
// the PASETO signing key, and the reuse-revocation policy. Secrets are
// explicit values here; nothing in this package reads ambient state after
// construction.
type Config struct {
	// Issuer is the "iss" claim of issued tokens.
	Issuer string

	// AccessTokenTTL is the lifetime of access tokens (minutes-scale).
	AccessTokenTTL time.Duration

	// RefreshTokenTTL is the lifetime of refresh tokens and of the session
	// record itself (days-scale).
	RefreshTokenTTL time.Duration

	// ClockSkew is the allowed skew during token validation.
	ClockSkew time.Duration

	// RefreshHMACKey keys the stored refresh-token hash. Required,
	// >= 32 bytes.
	RefreshHMACKey []byte

	// PasetoSecretKeyHex is the hex-encoded Ed25519 secret key used to
	// sign PASETO v4.public tokens. Required.
	PasetoSecretKeyHex string

	// RevokeAllOnReuse escalates refresh-reuse handling from revoking the
	// implicated session to revoking every session of the user.
	RevokeAllOnReuse bool
}

// SweepConfig controls the session sweeper schedules.
type SweepConfig struct {
	// ExpiredInterval is how often expired sessions are evicted.
	ExpiredInterval time.Duration

	// StaleInterval is how often the staleness sweep additionally runs.
	StaleInterval time.Duration

	// StaleAfter is the inactivity window after which a session is deleted
	// regardless of revocation state.
	StaleAfter time.Duration
}

// DefaultConfig returns secure defaults. Secrets must still be supplied.
func DefaultConfig() Config {
	return Config{
		Issuer:          "carelink",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		ClockSkew:       30 * time.Second,
	}
}

// DefaultSweepConfig returns the standard sweep schedule.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		ExpiredInterval: time.Hour,
		StaleInterval:   6 * time.Hour,
		StaleAfter:      30 * 24 * time.Hour,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - CARELINK_PASETO_SECRET_KEY_HEX
//   - CARELINK_REFRESH_HMAC_KEY (>= 32 bytes)
//
// Optional (valid Go duration strings):
//   - CARELINK_AUTH_ISSUER
//   - CARELINK_AUTH_ACCESS_TTL
//   - CARELINK_AUTH_REFRESH_TTL
//   - CARELINK_AUTH_CLOCK_SKEW
//   - CARELINK_AUTH_REVOKE_ALL_ON_REUSE
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("CARELINK_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("CARELINK_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("CARELINK_AUTH_REFRESH_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenTTL = d
	}

	if v := os.Getenv("CARELINK_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	if v := os.Getenv("CARELINK_AUTH_REVOKE_ALL_ON_REUSE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.RevokeAllOnReuse = b
	}

	cfg.PasetoSecretKeyHex = os.Getenv("CARELINK_PASETO_SECRET_KEY_HEX")
	if cfg.PasetoSecretKeyHex == "" {
		return Config{}, ErrConfig
	}

	cfg.RefreshHMACKey = []byte(os.Getenv("CARELINK_REFRESH_HMAC_KEY"))
	if err := token.ValidateHMACKey(cfg.RefreshHMACKey); err != nil {
		return Config{}, ErrConfig
	}

	// Invariant: refresh must outlive access.
	if cfg.RefreshTokenTTL <= cfg.AccessTokenTTL {
		return Config{}, ErrConfig
	}

	return cfg, nil
}

// LoadSweepConfigFromEnv loads the sweep schedule; all values optional.
//
//   - CARELINK_SWEEP_EXPIRED_INTERVAL
//   - CARELINK_SWEEP_STALE_INTERVAL
//   - CARELINK_SWEEP_STALE_AFTER
func LoadSweepConfigFromEnv() (SweepConfig, error) {
	cfg := DefaultSweepConfig()

	for _, item := range []struct {
		key string
		dst *time.Duration
	}{
		{"CARELINK_SWEEP_EXPIRED_INTERVAL", &cfg.ExpiredInterval},
		{"CARELINK_SWEEP_STALE_INTERVAL", &cfg.StaleInterval},
		{"CARELINK_SWEEP_STALE_AFTER", &cfg.StaleAfter},
	} {
		v := os.Getenv(item.key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return SweepConfig{}, ErrConfig
		}
		*item.dst = d
	}

	return cfg, nil
}
