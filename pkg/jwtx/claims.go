package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAccessTokenTTL is the default lifetime for access tokens.
const DefaultAccessTokenTTL = 15 * time.Minute

// Claims are the access-token claims. Everything the gateway needs to
// authorize a request without a store round trip lives here, except the
// current token version which is compared against the user record.
type Claims struct {
	jwt.RegisteredClaims

	// Session ID the token is bound to.
	SID string `json:"sid"`

	// TokenVersion is the user's global revocation counter at issue time.
	TokenVersion int64 `json:"token_version"`

	// RefreshTokenVersion is the session rotation version the token was minted with.
	RefreshTokenVersion int64 `json:"refresh_token_version"`

	Role string `json:"role,omitempty"`
}

// AccessClaimsParams is the input to NewAccessClaims.
type AccessClaimsParams struct {
	Subject             string
	SessionID           string
	TokenVersion        int64
	RefreshTokenVersion int64
	Role                string
	Issuer              string
	TTL                 time.Duration
}

// NewAccessClaims builds minimally-correct claims.
func NewAccessClaims(p AccessClaimsParams, now time.Time) Claims {
	ttl := p.TTL
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.Issuer,
			Subject:   p.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		SID:                 p.SessionID,
		TokenVersion:        p.TokenVersion,
		RefreshTokenVersion: p.RefreshTokenVersion,
		Role:                p.Role,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// Validate checks the custom claims jwt.Parser does not know about.
// It satisfies jwt.ClaimsValidator so the parser calls it after its own checks.
func (c Claims) Validate() error {
	if c.Subject == "" || c.SID == "" {
		return ErrInvalidClaim
	}
	if c.TokenVersion < 0 || c.RefreshTokenVersion < 0 {
		return ErrInvalidClaim
	}
	return nil
}
