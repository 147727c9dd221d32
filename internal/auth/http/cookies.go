package http

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/tabauth/internal/auth/domain"
	"github.com/aussiebroadwan/tabauth/internal/auth/gateway"
	"github.com/aussiebroadwan/tabauth/pkg/authsdk"
)

// CookieConfig controls the session cookies.
type CookieConfig struct {
	// Secure is set in production so cookies only travel over HTTPS.
	Secure bool
	Domain string
}

func (c CookieConfig) cookie(name, value string, expires, now time.Time, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		Expires:  expires,
		MaxAge:   max(int(expires.Sub(now).Seconds()), 1),
		HttpOnly: httpOnly,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// setSessionCookies mirrors pair into cookies. sessionId is readable by
// scripts so single page apps can send X-Session-ID themselves.
func (c CookieConfig) setSessionCookies(w http.ResponseWriter, pair domain.TokenPair, now time.Time) {
	http.SetCookie(w, c.cookie(gateway.AccessTokenCookie, pair.AccessToken, pair.AccessExpiresAt, now, true))
	http.SetCookie(w, c.cookie(gateway.RefreshTokenCookie, pair.RefreshToken, pair.RefreshExpiresAt, now, true))
	http.SetCookie(w, c.cookie(gateway.SessionIDCookie, pair.SessionID, pair.RefreshExpiresAt, now, false))
}

// clearSessionCookies expires all three cookies.
func (c CookieConfig) clearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{gateway.AccessTokenCookie, gateway.RefreshTokenCookie, gateway.SessionIDCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Domain:   c.Domain,
			MaxAge:   -1,
			HttpOnly: name != gateway.SessionIDCookie,
			Secure:   c.Secure,
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func tokenResponse(pair domain.TokenPair, now time.Time) authsdk.TokenResponse {
	return authsdk.TokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        max(int(pair.AccessExpiresAt.Sub(now).Seconds()), 0),
		SessionID:        pair.SessionID,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
}
