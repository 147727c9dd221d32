package authsdk

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// refreshSkew refreshes the access token slightly before it expires.
const refreshSkew = 30 * time.Second

// Session represents a signed in device with automatic token refresh.
// Sessions are safe for concurrent use.
type Session struct {
	client *SDKClient

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	sessionID    string
	expiresAt    time.Time
}

// NewSessionFromTokens wraps tokens returned by Login, VerifyTwoFactor or a
// WebAuthn login.
func (c *SDKClient) NewSessionFromTokens(tok *TokenResponse) *Session {
	s := &Session{client: c}
	s.apply(tok)
	return s
}

func (s *Session) apply(tok *TokenResponse) {
	s.accessToken = tok.AccessToken
	s.refreshToken = tok.RefreshToken
	s.sessionID = tok.SessionID
	s.expiresAt = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - refreshSkew)
}

// getValidToken returns a valid access token and the session id,
// refreshing first if the token has expired.
func (s *Session) getValidToken(ctx context.Context) (string, string, error) {
	s.mu.RLock()
	if time.Now().Before(s.expiresAt) {
		token, sid := s.accessToken, s.sessionID
		s.mu.RUnlock()
		return token, sid, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another goroutine may have refreshed while we waited.
	if time.Now().Before(s.expiresAt) {
		return s.accessToken, s.sessionID, nil
	}
	if s.refreshToken == "" {
		return "", "", fmt.Errorf("access token expired and no refresh token available")
	}

	tok, err := s.client.Refresh(ctx, s.sessionID, s.refreshToken)
	if err != nil {
		return "", "", fmt.Errorf("failed to refresh token: %w", err)
	}
	s.apply(tok)

	return s.accessToken, s.sessionID, nil
}

// Refresh rotates the tokens now, regardless of expiry.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, err := s.client.Refresh(ctx, s.sessionID, s.refreshToken)
	if err != nil {
		return err
	}
	s.apply(tok)
	return nil
}

// AccessToken returns the current access token without checking expiration.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// RefreshToken returns the current refresh token.
func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}

// SessionID returns the server-side session id.
func (s *Session) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// Logout ends this session on the server.
func (s *Session) Logout(ctx context.Context) error {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/auth/logout", nil)
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusNoContent)
}

// LogoutAll ends every session of the user and invalidates all access tokens.
func (s *Session) LogoutAll(ctx context.Context) error {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/auth/logout-all", nil)
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusNoContent)
}
