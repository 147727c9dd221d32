package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/tabauth/internal/auth/domain"
	"github.com/aussiebroadwan/tabauth/pkg/cryptox"
	"github.com/aussiebroadwan/tabauth/pkg/jwtx"
)

// TokenService mints and checks access tokens and opaque refresh tokens.
// Access tokens are stateless; the caller compares the version claims against
// the store.
type TokenService struct {
	KeyManager *jwtx.KeyManager
	Issuer     string
	AccessTTL  time.Duration
	Leeway     time.Duration
	Now        func() time.Time
}

func (s *TokenService) accessTTL() time.Duration {
	if s.AccessTTL <= 0 {
		return jwtx.DefaultAccessTokenTTL
	}
	return s.AccessTTL
}

// IssueAccessToken signs a token bound to sessionID and the session's current
// refresh version. It returns the token and its expiry.
func (s *TokenService) IssueAccessToken(user domain.User, sessionID string, refreshVersion int64) (string, time.Time, error) {
	now := nowOr(s.Now)
	claims := jwtx.NewAccessClaims(jwtx.AccessClaimsParams{
		Subject:             user.ID,
		SessionID:           sessionID,
		TokenVersion:        user.TokenVersion,
		RefreshTokenVersion: refreshVersion,
		Role:                user.Role,
		Issuer:              s.Issuer,
		TTL:                 s.accessTTL(),
	}, now)

	token, err := s.KeyManager.Sign(claims)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return token, claims.ExpiresAt.Time, nil
}

// VerifyAccessToken checks signature, expiry and issuer. Every failure is
// ErrInvalidToken; version checks are left to the caller.
func (s *TokenService) VerifyAccessToken(token string) (jwtx.Claims, error) {
	v := jwtx.NewVerifier(s.KeyManager.KeySet, s.Issuer,
		jwtx.WithClock(func() time.Time { return nowOr(s.Now) }),
		jwtx.WithLeeway(s.Leeway),
	)
	claims, err := v.Verify(token)
	if err != nil {
		return jwtx.Claims{}, errors.Join(ErrInvalidToken, err)
	}
	return claims, nil
}

// IssueRefreshToken returns a fresh raw token and the salted hash to store.
// The raw value is never persisted.
func IssueRefreshToken() (raw, hash string, err error) {
	raw, err = cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", "", fmt.Errorf("generate refresh token: %w", err)
	}
	hash, err = cryptox.HashSecret(raw)
	if err != nil {
		return "", "", fmt.Errorf("hash refresh token: %w", err)
	}
	return raw, hash, nil
}

// VerifyRefreshToken compares raw against the stored hash in constant time.
func VerifyRefreshToken(raw, storedHash string) bool {
	if raw == "" || storedHash == "" {
		return false
	}
	return cryptox.VerifySecret(raw, storedHash)
}
