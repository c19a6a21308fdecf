package session

import (
	"time"

	paseto "aidanwoods.dev/go-paseto"

	"carelink/internal/security/token"
)

// AccessClaims is the identity envelope propagated across HTTP/WS.
type AccessClaims struct {
	UserID    string
	SessionID string
	Role      Role
	ExpiresAt time.Time
	IssuedAt  time.Time
	Issuer    string
}

// RefreshClaims identifies the session a refresh token belongs to.
type RefreshClaims struct {
	UserID    string
	SessionID string
	ExpiresAt time.Time
}

const (
	purposeClaim   = "purpose"
	purposeAccess  = "access"
	purposeRefresh = "refresh"
)

// TokenCodec issues and verifies signed access and refresh tokens.
type TokenCodec interface {
	IssueAccess(userID, sessionID string, role Role, now time.Time) (tok string, exp time.Time, err error)
	IssueRefresh(userID, sessionID string, now, exp time.Time) (string, error)
	VerifyAccess(tok string, now time.Time) (AccessClaims, error)
	VerifyRefresh(tok string, now time.Time) (RefreshClaims, error)
	PublicKeyHex() string
}

type pasetoV4Codec struct {
	issuer    string
	accessTTL time.Duration
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewPasetoV4Codec builds a TokenCodec based on PASETO v4.public.
//
// Both token kinds are signed with the same Ed25519 keypair and carry an
// explicit purpose claim so one can never be presented as the other.
func NewPasetoV4Codec(cfg Config) (TokenCodec, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoSecretKeyHex)
	if err != nil {
		return nil, ErrConfig
	}

	return &pasetoV4Codec{
		issuer:    cfg.Issuer,
		accessTTL: cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

func (c *pasetoV4Codec) PublicKeyHex() string {
	return c.public.ExportHex()
}

func (c *pasetoV4Codec) IssueAccess(userID, sessionID string, role Role, now time.Time) (string, time.Time, error) {
	exp := now.Add(c.accessTTL)

	tok := paseto.NewToken()
	tok.SetIssuer(c.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)

	_ = tok.Set(purposeClaim, purposeAccess)
	_ = tok.Set("uid", userID)
	_ = tok.Set("sid", sessionID)
	_ = tok.Set("role", string(role))

	return tok.V4Sign(c.secret, nil), exp, nil
}

func (c *pasetoV4Codec) IssueRefresh(userID, sessionID string, now, exp time.Time) (string, error) {
	// A random jti keeps rotated refresh tokens distinct even within the
	// same signing instant, so their stored hashes always differ.
	jti, err := token.NewRandomHex(16)
	if err != nil {
		return "", err
	}

	tok := paseto.NewToken()
	tok.SetIssuer(c.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	tok.SetJti(jti)

	_ = tok.Set(purposeClaim, purposeRefresh)
	_ = tok.Set("uid", userID)
	_ = tok.Set("sid", sessionID)

	return tok.V4Sign(c.secret, nil), nil
}

func (c *pasetoV4Codec) VerifyAccess(tokStr string, now time.Time) (AccessClaims, error) {
	parsed, exp, err := c.parse(tokStr, purposeAccess, now)
	if err != nil {
		return AccessClaims{}, err
	}

	uid, err := parsed.GetString("uid")
	if err != nil || uid == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	sid, err := parsed.GetString("sid")
	if err != nil || sid == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	roleRaw, err := parsed.GetString("role")
	if err != nil {
		return AccessClaims{}, ErrInvalidToken
	}
	role, ok := ParseRole(roleRaw)
	if !ok {
		return AccessClaims{}, ErrInvalidToken
	}

	iss, _ := parsed.GetIssuer()
	iat, _ := parsed.GetIssuedAt()

	return AccessClaims{
		UserID:    uid,
		SessionID: sid,
		Role:      role,
		ExpiresAt: exp,
		IssuedAt:  iat,
		Issuer:    iss,
	}, nil
}

func (c *pasetoV4Codec) VerifyRefresh(tokStr string, now time.Time) (RefreshClaims, error) {
	parsed, exp, err := c.parse(tokStr, purposeRefresh, now)
	if err != nil {
		return RefreshClaims{}, err
	}

	uid, err := parsed.GetString("uid")
	if err != nil || uid == "" {
		return RefreshClaims{}, ErrInvalidToken
	}
	sid, err := parsed.GetString("sid")
	if err != nil || sid == "" {
		return RefreshClaims{}, ErrInvalidToken
	}

	return RefreshClaims{UserID: uid, SessionID: sid, ExpiresAt: exp}, nil
}

// parse verifies signature, issuer, and purpose, then applies the expiry
// check manually so callers can distinguish ErrTokenExpired from
// ErrInvalidToken.
func (c *pasetoV4Codec) parse(tokStr, wantPurpose string, now time.Time) (*paseto.Token, time.Time, error) {
	// Fresh parser per call to avoid accumulating rules across verifies.
	// The default parser carries a wall-clock NotExpired rule, which would
	// collapse expired tokens into the generic parse failure and ignore the
	// caller's clock; expiry is checked manually below against "now".
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(c.issuer))

	parsed, err := p.ParseV4Public(c.public, tokStr, nil)
	if err != nil {
		return nil, time.Time{}, ErrInvalidToken
	}

	purpose, err := parsed.GetString(purposeClaim)
	if err != nil || purpose != wantPurpose {
		return nil, time.Time{}, ErrInvalidToken
	}

	exp, err := parsed.GetExpiration()
	if err != nil {
		return nil, time.Time{}, ErrInvalidToken
	}
	if !exp.After(now.Add(-c.clockSkew)) {
		return nil, time.Time{}, ErrTokenExpired
	}

	return parsed, exp, nil
}
