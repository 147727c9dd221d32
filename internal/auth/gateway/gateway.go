// Package gateway authenticates requests carrying an access token and a
// session id, and enforces roles.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/aussiebroadwan/tabauth/internal/auth/service"
	"github.com/aussiebroadwan/tabauth/internal/auth/store"
	"github.com/aussiebroadwan/tabauth/pkg/authsdk"
	"github.com/aussiebroadwan/tabauth/pkg/httpx"
	"github.com/aussiebroadwan/tabauth/pkg/i18nx"
	"github.com/aussiebroadwan/tabauth/pkg/slogx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Cookie names shared with the HTTP handlers.
const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
	SessionIDCookie    = "sessionId"
)

var tracer = otel.Tracer("github.com/aussiebroadwan/tabauth/internal/auth/gateway")

// Gateway resolves the Principal of a request.
type Gateway struct {
	Tokens   *service.TokenService
	Sessions *service.SessionService
	Store    store.Store

	// Cache is optional. Lookups that fail fall back to the store.
	Cache service.VersionCache
}

// Credentials extracts the access token and session id. Cookies win over
// headers.
func Credentials(r *http.Request) (token, sessionID string) {
	if c, err := r.Cookie(AccessTokenCookie); err == nil {
		token = c.Value
	}
	if token == "" {
		if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
			token = strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
		}
	}
	if c, err := r.Cookie(SessionIDCookie); err == nil {
		sessionID = c.Value
	}
	if sessionID == "" {
		sessionID = strings.TrimSpace(r.Header.Get(authsdk.SessionIDHeader))
	}
	return token, sessionID
}

// Authenticate checks token signature and expiry, the session binding, the
// user's token version and finally the session itself.
func (g *Gateway) Authenticate(ctx context.Context, token, sessionID string) (Principal, error) {
	ctx, span := tracer.Start(ctx, "Gateway.Authenticate")
	defer span.End()

	if token == "" || sessionID == "" {
		return Principal{}, service.ErrInvalidToken
	}

	claims, err := g.Tokens.VerifyAccessToken(token)
	if err != nil {
		return Principal{}, service.ErrInvalidToken
	}
	if claims.SID != sessionID {
		return Principal{}, service.ErrInvalidToken
	}
	span.SetAttributes(attribute.String("user.id", claims.Subject))

	current, err := g.tokenVersion(ctx, claims.Subject)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token version lookup failed")
		return Principal{}, err
	}
	if current != claims.TokenVersion {
		return Principal{}, service.ErrSessionRevoked
	}

	if _, err := g.Sessions.Validate(ctx, claims.Subject, sessionID); err != nil {
		return Principal{}, err
	}

	return Principal{
		UserID:       claims.Subject,
		SessionID:    sessionID,
		Role:         claims.Role,
		TokenVersion: claims.TokenVersion,
	}, nil
}

// tokenVersion reads through the cache. A deleted user is a revoked session.
func (g *Gateway) tokenVersion(ctx context.Context, userID string) (int64, error) {
	log := slogx.FromContext(ctx)

	if g.Cache != nil {
		v, ok, err := g.Cache.Get(ctx, userID)
		switch {
		case err != nil:
			log.Warn("version cache get failed", slog.String("user_id", userID), slog.Any("error", err))
		case ok:
			return v, nil
		}
	}

	v, err := g.Store.Users().GetTokenVersion(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, service.ErrSessionRevoked
		}
		return 0, fmt.Errorf("load token version: %w", err)
	}

	if g.Cache != nil {
		if err := g.Cache.Set(ctx, userID, v); err != nil {
			log.Warn("version cache set failed", slog.String("user_id", userID), slog.Any("error", err))
		}
	}
	return v, nil
}

// Middleware rejects unauthenticated requests and places the Principal in
// the request context. It also records the subject for per-user rate limits.
func (g *Gateway) Middleware() httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, sessionID := Credentials(r)

			p, err := g.Authenticate(ctx, token, sessionID)
			if err != nil {
				writeAuthError(w, r, err)
				return
			}

			ctx = WithPrincipal(ctx, p)
			ctx = httpx.WithSubject(ctx, p.UserID)
			ctx = slogx.With(ctx, "user_id", p.UserID, "session_id", p.SessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole allows the request only when the principal holds one of roles.
// It must run after Middleware.
func RequireRole(roles ...string) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok || !slices.Contains(roles, p.Role) {
				authsdk.ErrInsufficientRole.WriteError(w, i18nx.FromRequest(r))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	t := i18nx.FromRequest(r)
	switch {
	case errors.Is(err, service.ErrInvalidToken):
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		authsdk.ErrInvalidToken.WriteError(w, t)
	case errors.Is(err, service.ErrSessionRevoked):
		authsdk.ErrSessionRevoked.WriteError(w, t)
	case errors.Is(err, service.ErrSessionExpired):
		authsdk.ErrSessionExpired.WriteError(w, t)
	default:
		slogx.FromContext(r.Context()).Error("authenticate request", slog.Any("error", err))
		authsdk.ErrServerError.WriteError(w, t)
	}
}
