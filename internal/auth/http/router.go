package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/tabauth/internal/auth/domain"
	"github.com/aussiebroadwan/tabauth/internal/auth/gateway"
	"github.com/aussiebroadwan/tabauth/internal/auth/service"
	"github.com/aussiebroadwan/tabauth/internal/auth/store"
	"github.com/aussiebroadwan/tabauth/pkg/httpx"
	"github.com/aussiebroadwan/tabauth/pkg/jwtx"
	"github.com/aussiebroadwan/tabauth/pkg/slogx"

	_ "github.com/aussiebroadwan/tabauth/api/auth" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// Pinger is an optional dependency checked by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RateLimits holds the three limiter profiles.
type RateLimits struct {
	Strict   httpx.RateLimitConfig
	Moderate httpx.RateLimitConfig
	Lenient  httpx.RateLimitConfig
}

// DefaultRateLimits reads RATELIMIT_{STRICT,MODERATE,LENIENT}_* overrides.
func DefaultRateLimits() RateLimits {
	return RateLimits{
		Strict:   httpx.ParseRateLimitFromEnv("STRICT", httpx.StrictLimit),
		Moderate: httpx.ParseRateLimitFromEnv("MODERATE", httpx.ModerateLimit),
		Lenient:  httpx.ParseRateLimitFromEnv("LENIENT", httpx.LenientLimit),
	}
}

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	keys         *jwtx.KeySet
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
	store        store.Store

	Gateway     *gateway.Gateway
	Credentials *service.CredentialService
	Sessions    *service.SessionService
	TwoFactor   *service.TwoFactorService
	WebAuthn    *service.WebAuthnService
	Login       *service.LoginService
	KeyRotation *service.KeyRotationService

	// Cache is reported by /readyz when set.
	Cache Pinger

	Cookies CookieConfig
	Limits  RateLimits
	Now     func() time.Time
}

func NewRouter(
	keys *jwtx.KeySet,
	buildVersion string,
	st store.Store,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		keys:         keys,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
		Limits:       DefaultRateLimits(),
		Now:          time.Now,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerAccount()
	r.registerTwoFactor()
	r.registerAdmin()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			TabAuth Authentication Service API
//	@version		0.1.0
//	@description	Session based authentication with rotating refresh tokens, two-factor
//	@description	authentication (authenticator app, email codes, security keys) and backup codes.
//	@description
//	@description				Access tokens are JWTs signed with EdDSA or ES256 and can be verified using the JWKS endpoint.
//	@description				Every authenticated request must carry the session id as the sessionId cookie or X-Session-ID header.
//
//	@contact.name				AussieBroadWAN Team
//	@contact.url				https://github.com/aussiebroadwan/tabauth
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT access token. Format: "Bearer {token}".
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// authed runs the gateway before a per-subject limit.
func (r *Router) authed(h http.HandlerFunc, limit httpx.RateLimitConfig, extra ...httpx.Middleware) http.Handler {
	mws := []httpx.Middleware{
		r.Gateway.Middleware(),
		httpx.RateLimitBySubject(limit, rejectRateLimited),
	}
	return httpx.Chain(h, append(mws, extra...)...)
}

func (r *Router) registerAuth() {
	h := &AuthHandler{
		Credentials: r.Credentials,
		Sessions:    r.Sessions,
		Login:       r.Login,
		Cookies:     r.Cookies,
		Now:         r.now,
	}
	strict := httpx.RateLimitByIP(r.Limits.Strict, rejectRateLimited)

	r.Mux.Handle("POST /v1/auth/register", httpx.Chain(http.HandlerFunc(h.HandleRegister), strict))

	// Login is limited by IP and email so one address cannot be sprayed from many tabs.
	r.Mux.Handle("POST /v1/auth/login",
		httpx.Chain(http.HandlerFunc(h.HandleLogin),
			httpx.RateLimitByIPAndJSONField(r.Limits.Strict, "email", rejectRateLimited),
		),
	)
	r.Mux.Handle("POST /v1/auth/2fa/verify",
		httpx.Chain(http.HandlerFunc(h.HandleVerifyTwoFactor),
			httpx.RateLimitByIPAndJSONField(r.Limits.Strict, "challenge_token", rejectRateLimited),
		),
	)
	r.Mux.Handle("POST /v1/auth/2fa/email/send", httpx.Chain(http.HandlerFunc(h.HandleSendLoginCode), strict))
	r.Mux.Handle("POST /v1/auth/webauthn/options", httpx.Chain(http.HandlerFunc(h.HandleWebAuthnOptions), strict))
	r.Mux.Handle("POST /v1/auth/webauthn/verify", httpx.Chain(http.HandlerFunc(h.HandleWebAuthnVerify), strict))

	r.Mux.Handle("POST /v1/auth/refresh",
		httpx.Chain(http.HandlerFunc(h.HandleRefresh), httpx.RateLimitByIP(r.Limits.Moderate, rejectRateLimited)),
	)

	r.Mux.Handle("POST /v1/auth/password/forgot", httpx.Chain(http.HandlerFunc(h.HandleForgotPassword), strict))
	r.Mux.Handle("POST /v1/auth/password/resend", httpx.Chain(http.HandlerFunc(h.HandleResendPasswordReset), strict))
	r.Mux.Handle("POST /v1/auth/password/reset", httpx.Chain(http.HandlerFunc(h.HandleResetPassword), strict))
	r.Mux.Handle("POST /v1/auth/email/verify", httpx.Chain(http.HandlerFunc(h.HandleVerifyEmail), strict))

	r.Mux.Handle("POST /v1/auth/logout", r.authed(h.HandleLogout, r.Limits.Moderate))
	r.Mux.Handle("POST /v1/auth/logout-all", r.authed(h.HandleLogoutAll, r.Limits.Moderate))
}

func (r *Router) registerAccount() {
	h := &AccountHandler{
		Credentials: r.Credentials,
		Sessions:    r.Sessions,
		Cookies:     r.Cookies,
	}

	r.Mux.Handle("POST /v1/auth/password/change", r.authed(h.HandleChangePassword, r.Limits.Strict))
	r.Mux.Handle("POST /v1/auth/email/resend", r.authed(h.HandleResendVerification, r.Limits.Strict))

	r.Mux.Handle("GET /v1/me", r.authed(h.HandleMe, r.Limits.Lenient))
	r.Mux.Handle("DELETE /v1/me", r.authed(h.HandleDeleteAccount, r.Limits.Strict))

	r.Mux.Handle("GET /v1/sessions", r.authed(h.HandleListSessions, r.Limits.Lenient))
	r.Mux.Handle("DELETE /v1/sessions", r.authed(h.HandleRevokeOtherSessions, r.Limits.Moderate))
	r.Mux.Handle("DELETE /v1/sessions/{id}", r.authed(h.HandleRevokeSession, r.Limits.Moderate))
}

func (r *Router) registerTwoFactor() {
	h := &TwoFactorHandler{
		Credentials: r.Credentials,
		TwoFactor:   r.TwoFactor,
		WebAuthn:    r.WebAuthn,
	}

	r.Mux.Handle("GET /v1/2fa", r.authed(h.HandleStatus, r.Limits.Lenient))
	r.Mux.Handle("POST /v1/2fa/preferred", r.authed(h.HandleSetPreferred, r.Limits.Moderate))
	r.Mux.Handle("POST /v1/2fa/backup-codes", r.authed(h.HandleRegenerateBackupCodes, r.Limits.Strict))
	r.Mux.Handle("POST /v1/2fa/email/code", r.authed(h.HandleSendDisableCode, r.Limits.Strict))

	r.Mux.Handle("POST /v1/2fa/webauthn/register/options", r.authed(h.HandleWebAuthnRegisterOptions, r.Limits.Moderate))
	r.Mux.Handle("POST /v1/2fa/webauthn/register/verify", r.authed(h.HandleWebAuthnRegisterVerify, r.Limits.Strict))
	r.Mux.Handle("GET /v1/2fa/webauthn/credentials", r.authed(h.HandleListWebAuthnCredentials, r.Limits.Lenient))
	r.Mux.Handle("DELETE /v1/2fa/webauthn/credentials/{id}", r.authed(h.HandleDeleteWebAuthnCredential, r.Limits.Moderate))

	r.Mux.Handle("POST /v1/2fa/{method}/configure", r.authed(h.HandleConfigure, r.Limits.Strict))
	r.Mux.Handle("POST /v1/2fa/{method}/enable", r.authed(h.HandleEnable, r.Limits.Strict))
	r.Mux.Handle("POST /v1/2fa/{method}/disable", r.authed(h.HandleDisable, r.Limits.Strict))
}

func (r *Router) registerAdmin() {
	admin := gateway.RequireRole(domain.RoleAdmin)

	users := &AdminHandler{Credentials: r.Credentials}
	r.Mux.Handle("POST /v1/admin/users/{id}/revoke-sessions", r.authed(users.HandleRevokeUserSessions, r.Limits.Moderate, admin))

	keys := &KeyRotationHandler{KeyRotationService: r.KeyRotation}
	r.Mux.Handle("GET /v1/admin/keys", r.authed(keys.HandleListKeys, r.Limits.Lenient, admin))
	r.Mux.Handle("POST /v1/admin/keys/rotate", r.authed(keys.HandleRotate, r.Limits.Strict, admin))
	r.Mux.Handle("POST /v1/admin/keys/{kid}/retire", r.authed(keys.HandleRetireKey, r.Limits.Strict, admin))
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /.well-known/jwks.json",
		httpx.Chain(JWKSHandler(r.keys), httpx.RateLimitByIP(r.Limits.Lenient, rejectRateLimited)),
	)
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.store, r.keys, r.Cache))
}
