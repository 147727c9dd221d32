package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/tabauth/internal/auth/domain"
	"github.com/aussiebroadwan/tabauth/internal/auth/gateway"
	"github.com/aussiebroadwan/tabauth/internal/auth/service"
	"github.com/aussiebroadwan/tabauth/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/tabauth/pkg/authsdk"
	"github.com/aussiebroadwan/tabauth/pkg/cryptox"
	"github.com/aussiebroadwan/tabauth/pkg/httpx"
	"github.com/aussiebroadwan/tabauth/pkg/jwtx"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

const testPassword = "correct horse battery"

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "http-pepper")
	if err != nil {
		panic(err)
	}
	cryptox.SetPepperPath(filepath.Join(dir, "pepper"))

	code := m.Run()
	_ = os.RemoveAll(dir)
	os.Exit(code)
}

// outbox records what would have been emailed, keyed by address.
type outbox struct {
	mu            sync.Mutex
	codes         map[string]string
	resets        map[string]string
	verifications map[string]string
}

func (o *outbox) SendCode(_ context.Context, u domain.User, code string, _ time.Time, _ service.CodeContext) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.codes[u.Email] = code
	return nil
}

func (o *outbox) SendLoginNotification(context.Context, domain.User, domain.DeviceInfo) error {
	return nil
}

func (o *outbox) SendPasswordReset(_ context.Context, u domain.User, token string, _ time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resets[u.Email] = token
	return nil
}

func (o *outbox) SendEmailVerification(_ context.Context, u domain.User, token string, _ time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.verifications[u.Email] = token
	return nil
}

func (o *outbox) get(m map[string]string, email string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return m[email]
}

type testServer struct {
	router *Router
	mail   *outbox
}

func generous() httpx.RateLimitConfig {
	return httpx.RateLimitConfig{RequestsPerWindow: 1000, Window: time.Minute, Burst: 1000}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	keys, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{Issuer: "tabauth-test", NumKeys: 1})
	require.NoError(t, err)

	mail := &outbox{codes: map[string]string{}, resets: map[string]string{}, verifications: map[string]string{}}
	tokens := &service.TokenService{KeyManager: keys, Issuer: "tabauth-test"}
	sessions := &service.SessionService{Store: st, Tokens: tokens, Devices: service.UserAgentResolver{}}
	creds := &service.CredentialService{Store: st, Mailer: mail, AdminEmails: []string{"admin@example.com"}}
	twoFA := &service.TwoFactorService{Store: st, Mailer: mail, Issuer: "tabauth-test"}
	webauthn := &service.WebAuthnService{Store: st, TwoFactor: twoFA}

	r := NewRouter(keys.KeySet, "test", st, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.Gateway = &gateway.Gateway{Tokens: tokens, Sessions: sessions, Store: st}
	r.Credentials = creds
	r.Sessions = sessions
	r.TwoFactor = twoFA
	r.WebAuthn = webauthn
	r.Login = &service.LoginService{
		Store:       st,
		Credentials: creds,
		TwoFactor:   twoFA,
		WebAuthn:    webauthn,
		Sessions:    sessions,
		Mailer:      mail,
	}
	r.KeyRotation = &service.KeyRotationService{KeyManager: keys}
	r.Limits = RateLimits{Strict: generous(), Moderate: generous(), Lenient: generous()}
	r.ApplyRoutes()

	return &testServer{router: r, mail: mail}
}

type call struct {
	method  string
	path    string
	body    any
	token   *authsdk.TokenResponse
	cookies []*http.Cookie
	lang    string
}

func (s *testServer) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if c.body != nil {
		raw, err := json.Marshal(c.body)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	req.RemoteAddr = "192.0.2.10:4321"
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0")
	if c.token != nil {
		req.Header.Set("Authorization", "Bearer "+c.token.AccessToken)
		req.Header.Set(authsdk.SessionIDHeader, c.token.SessionID)
	}
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	if c.lang != "" {
		req.Header.Set("Accept-Language", c.lang)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[authsdk.ErrorResponse](t, rec).Error
}

func (s *testServer) register(t *testing.T, email string) authsdk.UserResponse {
	t.Helper()
	rec := s.do(t, call{method: http.MethodPost, path: "/v1/auth/register", body: authsdk.RegisterRequest{Email: email, Password: testPassword}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[authsdk.UserResponse](t, rec)
}

func (s *testServer) login(t *testing.T, email string) *authsdk.TokenResponse {
	t.Helper()
	rec := s.do(t, call{method: http.MethodPost, path: "/v1/auth/login", body: authsdk.LoginRequest{Email: email, Password: testPassword}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tok := decode[authsdk.TokenResponse](t, rec)
	return &tok
}

func cookieByName(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestRegisterAndLogin(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	user := s.register(t, "Alice@Example.com")
	require.Equal(t, "alice@example.com", user.Email)
	require.Equal(t, domain.RoleUser, user.Role)
	require.False(t, user.EmailVerified)

	t.Run("duplicate email", func(t *testing.T) {
		rec := s.do(t, call{method: http.MethodPost, path: "/v1/auth/register", body: authsdk.RegisterRequest{Email: "alice@example.com", Password: testPassword}})
		require.Equal(t, http.StatusConflict, rec.Code)
		require.Equal(t, authsdk.ErrorCodeEmailTaken, errorCode(t, rec))
	})

	t.Run("weak password is localized", func(t *testing.T) {
		rec := s.do(t, call{
			method: http.MethodPost,
			path:   "/v1/auth/register",
			body:   authsdk.RegisterRequest{Email: "bob@example.com", Password: "short"},
			lang:   "fr-FR,fr;q=0.9",
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		body := decode[authsdk.ErrorResponse](t, rec)
		require.Equal(t, authsdk.ErrorCodeWeakPassword, body.Error)
		require.Contains(t, body.ErrorDescription, "8")
		require.Contains(t, body.ErrorDescription, "128")
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		rec := s.do(t, call{method: http.MethodPost, path: "/v1/auth/login", body: map[string]string{"email": "alice@example.com", "pass": "x"}})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, authsdk.ErrorCodeInvalidRequest, errorCode(t, rec))
	})

	t.Run("wrong password", func(t *testing.T) {
		rec := s.do(t, call{method: http.MethodPost, path: "/v1/auth/login", body: authsdk.LoginRequest{Email: "alice@example.com", Password: "not the password"}})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, authsdk.ErrorCodeInvalidCredentials, errorCode(t, rec))
	})

	t.Run("login sets cookies", func(t *testing.T) {
		rec := s.do(t, call{method: http.MethodPost, path: "/v1/auth/login", body: authsdk.LoginRequest{Email: "alice@example.com", Password: testPassword, RememberMe: true}})
		require.Equal(t, http.StatusOK, rec.Code)
		tok := decode[authsdk.TokenResponse](t, rec)
		require.Equal(t, "Bearer", tok.TokenType)
		require.Positive(t, tok.ExpiresIn)
		require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

		access := cookieByName(rec, gateway.AccessTokenCookie)
		require.NotNil(t, access)
		require.Equal(t, tok.AccessToken, access.Value)
		require.True(t, access.HttpOnly)
		require.Equal(t, http.SameSiteStrictMode, access.SameSite)

		refresh := cookieByName(rec, gateway.RefreshTokenCookie)
		require.NotNil(t, refresh)
		require.True(t, refresh.HttpOnly)

		sid := cookieByName(rec, gateway.SessionIDCookie)
		require.NotNil(t, sid)
		require.Equal(t, tok.SessionID, sid.Value)
		require.False(t, sid.HttpOnly)

		me := s.do(t, call{method: http.MethodGet, path: "/v1/me", cookies: []*http.Cookie{access, sid}})
		require.Equal(t, http.StatusOK, me.Code)
		require.Equal(t, user.ID, decode[authsdk.UserResponse](t, me).ID)
	})
}

func TestRefresh(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.register(t, "alice@example.com")
	tok := s.login(t, "alice@example.com")

	rec := s.do(t, call{method: http.MethodPost, path: "/v1/auth/refresh", body: authsdk.RefreshRequest{SessionID: tok.SessionID, RefreshToken: tok.RefreshToken}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	next := decode[authsdk.TokenResponse](t, rec)
	require.Equal(t, tok.SessionID, next.SessionID)
	require.NotEqual(t, tok.RefreshToken, next.RefreshToken)

	t.Run("cookies", func(t *testing.T) {
		cookies := []*http.Cookie{
			{Name: gateway.SessionIDCookie, Value: next.SessionID},
			{Name: gateway.RefreshTokenCookie, Value: next.RefreshToken},
		}
		rec := s.do(t, call{method: http.MethodPost, path: "/v1/auth/refresh", cookies: cookies})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		next = decode[authsdk.TokenResponse](t, rec)
	})

	t.Run("replay revokes the session", func(t *testing.T) {
		rec := s.do(t, call{method: http.MethodPost, path: "/v1/auth/refresh", body: authsdk.RefreshRequest{SessionID: tok.SessionID, RefreshToken: tok.RefreshToken}})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, authsdk.ErrorCodeSessionRevoked, errorCode(t, rec))

		me := s.do(t, call{method: http.MethodGet, path: "/v1/me", token: &next})
		require.Equal(t, http.StatusUnauthorized, me.Code)
		require.Equal(t, authsdk.ErrorCodeSessionRevoked, errorCode(t, me))
	})

	t.Run("missing token", func(t *testing.T) {
		rec := s.do(t, call{method: http.MethodPost, path: "/v1/auth/refresh"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, authsdk.ErrorCodeInvalidToken, errorCode(t, rec))
	})
}

func TestPasswordReset(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.register(t, "alice@example.com")

	known := s.do(t, call{method: http.MethodPost, path: "/v1/auth/password/forgot", body: authsdk.EmailRequest{Email: "alice@example.com"}})
	unknown := s.do(t, call{method: http.MethodPost, path: "/v1/auth/password/forgot", body: authsdk.EmailRequest{Email: "nobody@example.com"}})
	require.Equal(t, http.StatusAccepted, known.Code)
	require.Equal(t, known.Code, unknown.Code)
	require.Equal(t, known.Body.String(), unknown.Body.String())

	resend := s.do(t, call{method: http.MethodPost, path: "/v1/auth/password/resend", body: authsdk.EmailRequest{Email: "alice@example.com"}})
	require.Equal(t, http.StatusAccepted, resend.Code)

	token := s.mail.get(s.mail.resets, "alice@example.com")
	require.NotEmpty(t, token)

	rec := s.do(t, call{method: http.MethodPost, path: "/v1/auth/password/reset", body: authsdk.ResetPasswordRequest{Token: token, Password: "a brand new password"}})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	again := s.do(t, call{method: http.MethodPost, path: "/v1/auth/password/reset", body: authsdk.ResetPasswordRequest{Token: token, Password: "another new password"}})
	require.Equal(t, http.StatusUnauthorized, again.Code)
	require.Equal(t, authsdk.ErrorCodeInvalidToken, errorCode(t, again))

	login := s.do(t, call{method: http.MethodPost, path: "/v1/auth/login", body: authsdk.LoginRequest{Email: "alice@example.com", Password: "a brand new password"}})
	require.Equal(t, http.StatusOK, login.Code)
}

func TestVerifyEmail(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.register(t, "alice@example.com")
	tok := s.login(t, "alice@example.com")

	rec := s.do(t, call{method: http.MethodPost, path: "/v1/auth/email/resend", token: tok})
	require.Equal(t, http.StatusNoContent, rec.Code)

	token := s.mail.get(s.mail.verifications, "alice@example.com")
	rec = s.do(t, call{method: http.MethodPost, path: "/v1/auth/email/verify", body: authsdk.VerifyEmailRequest{Token: token}})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	me := decode[authsdk.UserResponse](t, s.do(t, call{method: http.MethodGet, path: "/v1/me", token: tok}))
	require.True(t, me.EmailVerified)
}

func TestSessions(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.register(t, "alice@example.com")
	first := s.login(t, "alice@example.com")
	second := s.login(t, "alice@example.com")
	third := s.login(t, "alice@example.com")

	list := decode[authsdk.ListSessionsResponse](t, s.do(t, call{method: http.MethodGet, path: "/v1/sessions", token: first}))
	require.Len(t, list.Sessions, 3)
	for _, sess := range list.Sessions {
		require.Equal(t, sess.ID == first.SessionID, sess.IsCurrent)
		require.Equal(t, "Firefox", sess.Browser)
	}

	t.Run("cannot revoke current", func(t *testing.T) {
		rec := s.do(t, call{method: http.MethodDelete, path: "/v1/sessions/" + first.SessionID, token: first})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, authsdk.ErrorCodeCannotRevokeCurrent, errorCode(t, rec))
	})

	t.Run("revoke another", func(t *testing.T) {
		rec := s.do(t, call{method: http.MethodDelete, path: "/v1/sessions/" + second.SessionID, token: first})
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = s.do(t, call{method: http.MethodGet, path: "/v1/me", token: second})
		require.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = s.do(t, call{method: http.MethodDelete, path: "/v1/sessions/" + second.SessionID, token: first})
		require.Equal(t, http.StatusNotFound, rec.Code)
		require.Equal(t, authsdk.ErrorCodeSessionNotFound, errorCode(t, rec))
	})

	t.Run("revoke others", func(t *testing.T) {
		rec := s.do(t, call{method: http.MethodDelete, path: "/v1/sessions", token: first})
		require.Equal(t, http.StatusOK, rec.Code)
		require.EqualValues(t, 1, decode[authsdk.RevokeSessionsResponse](t, rec).Revoked)

		require.Equal(t, http.StatusUnauthorized, s.do(t, call{method: http.MethodGet, path: "/v1/me", token: third}).Code)
		require.Equal(t, http.StatusOK, s.do(t, call{method: http.MethodGet, path: "/v1/me", token: first}).Code)
	})

	t.Run("logout clears cookies", func(t *testing.T) {
		rec := s.do(t, call{method: http.MethodPost, path: "/v1/auth/logout", token: first})
		require.Equal(t, http.StatusNoContent, rec.Code)
		c := cookieByName(rec, gateway.AccessTokenCookie)
		require.NotNil(t, c)
		require.Negative(t, c.MaxAge)

		require.Equal(t, http.StatusUnauthorized, s.do(t, call{method: http.MethodGet, path: "/v1/me", token: first}).Code)
	})
}

func TestLogoutAll(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.register(t, "alice@example.com")
	a := s.login(t, "alice@example.com")
	b := s.login(t, "alice@example.com")

	require.Equal(t, http.StatusNoContent, s.do(t, call{method: http.MethodPost, path: "/v1/auth/logout-all", token: a}).Code)
	for _, tok := range []*authsdk.TokenResponse{a, b} {
		rec := s.do(t, call{method: http.MethodGet, path: "/v1/me", token: tok})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, authsdk.ErrorCodeSessionRevoked, errorCode(t, rec))
	}
}

func TestChangePasswordAndDelete(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.register(t, "alice@example.com")
	tok := s.login(t, "alice@example.com")

	rec := s.do(t, call{method: http.MethodPost, path: "/v1/auth/password/change", token: tok,
		body: authsdk.ChangePasswordRequest{CurrentPassword: "wrong password", NewPassword: "a brand new password"}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, authsdk.ErrorCodeInvalidCredentials, errorCode(t, rec))

	rec = s.do(t, call{method: http.MethodPost, path: "/v1/auth/password/change", token: tok,
		body: authsdk.ChangePasswordRequest{CurrentPassword: testPassword, NewPassword: "a brand new password"}})
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, http.StatusUnauthorized, s.do(t, call{method: http.MethodGet, path: "/v1/me", token: tok}).Code)

	rec = s.do(t, call{method: http.MethodPost, path: "/v1/auth/login", body: authsdk.LoginRequest{Email: "alice@example.com", Password: "a brand new password"}})
	require.Equal(t, http.StatusOK, rec.Code)
	tok2 := decode[authsdk.TokenResponse](t, rec)

	rec = s.do(t, call{method: http.MethodDelete, path: "/v1/me", token: &tok2, body: authsdk.DeleteAccountRequest{Password: "a brand new password"}})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = s.do(t, call{method: http.MethodPost, path: "/v1/auth/login", body: authsdk.LoginRequest{Email: "alice@example.com", Password: "a brand new password"}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAppTwoFactorFlow(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.register(t, "alice@example.com")
	tok := s.login(t, "alice@example.com")

	rec := s.do(t, call{method: http.MethodPost, path: "/v1/2fa/app/configure", token: tok})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	setup := decode[authsdk.ConfigureMethodResponse](t, rec)
	require.NotEmpty(t, setup.Secret)
	require.True(t, strings.HasPrefix(setup.URL, "otpauth://totp/"))

	rec = s.do(t, call{method: http.MethodPost, path: "/v1/2fa/app/enable", token: tok, body: authsdk.EnableMethodRequest{Code: "000000"}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, authsdk.ErrorCodeTwoFactorInvalidCode, errorCode(t, rec))

	code, err := totp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)
	rec = s.do(t, call{method: http.MethodPost, path: "/v1/2fa/app/enable", token: tok, body: authsdk.EnableMethodRequest{Code: code}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	backup := decode[authsdk.BackupCodesResponse](t, rec)
	require.Len(t, backup.Codes, domain.BackupCodePoolSize)

	status := decode[authsdk.TwoFactorStatusResponse](t, s.do(t, call{method: http.MethodGet, path: "/v1/2fa", token: tok}))
	require.True(t, status.Enabled)
	require.Equal(t, []string{"app"}, status.Methods)
	require.Equal(t, "app", status.PreferredMethod)
	require.Equal(t, domain.BackupCodePoolSize, status.BackupCodesRemaining)

	rec = s.do(t, call{method: http.MethodPost, path: "/v1/2fa/email/disable", token: tok, body: authsdk.ProofRequest{Password: testPassword}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, authsdk.ErrorCodeTwoFactorSetupRequired, errorCode(t, rec))

	// Password login now stops at a challenge.
	rec = s.do(t, call{method: http.MethodPost, path: "/v1/auth/login", body: authsdk.LoginRequest{Email: "alice@example.com", Password: testPassword}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	challenge := decode[authsdk.TwoFactorChallengeResponse](t, rec)
	require.Equal(t, authsdk.ErrorCodeTwoFactorRequired, challenge.Error)
	require.NotEmpty(t, challenge.ChallengeToken)
	require.Equal(t, []string{"app"}, challenge.Methods)
	require.Nil(t, cookieByName(rec, gateway.AccessTokenCookie))

	rec = s.do(t, call{method: http.MethodPost, path: "/v1/auth/2fa/verify", body: authsdk.VerifyTwoFactorRequest{ChallengeToken: challenge.ChallengeToken, Method: "sms", Code: "1"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, call{method: http.MethodPost, path: "/v1/auth/2fa/verify", body: authsdk.VerifyTwoFactorRequest{ChallengeToken: challenge.ChallengeToken, Method: "backup", Code: backup.Codes[0]}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	second := decode[authsdk.TokenResponse](t, rec)
	require.NotEmpty(t, second.AccessToken)

	rec = s.do(t, call{method: http.MethodPost, path: "/v1/2fa/backup-codes", token: &second, body: authsdk.ProofRequest{Password: testPassword}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, decode[authsdk.BackupCodesResponse](t, rec).Codes, domain.BackupCodePoolSize)

	rec = s.do(t, call{method: http.MethodPost, path: "/v1/2fa/app/disable", token: &second, body: authsdk.ProofRequest{Password: testPassword}})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	status = decode[authsdk.TwoFactorStatusResponse](t, s.do(t, call{method: http.MethodGet, path: "/v1/2fa", token: &second}))
	require.False(t, status.Enabled)
	require.Equal(t, string(domain.MethodNone), status.PreferredMethod)
	require.Zero(t, status.BackupCodesRemaining)
}

func TestEmailTwoFactorFlow(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.register(t, "alice@example.com")
	tok := s.login(t, "alice@example.com")

	rec := s.do(t, call{method: http.MethodPost, path: "/v1/2fa/email/configure", token: tok})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Empty(t, decode[authsdk.ConfigureMethodResponse](t, rec).Secret)

	rec = s.do(t, call{method: http.MethodPost, path: "/v1/2fa/email/enable", token: tok,
		body: authsdk.EnableMethodRequest{Code: s.mail.get(s.mail.codes, "alice@example.com")}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, call{method: http.MethodPost, path: "/v1/auth/login", body: authsdk.LoginRequest{Email: "alice@example.com", Password: testPassword}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	challenge := decode[authsdk.TwoFactorChallengeResponse](t, rec)
	require.Equal(t, "email", challenge.PreferredMethod)

	rec = s.do(t, call{method: http.MethodPost, path: "/v1/auth/2fa/email/send", body: authsdk.ChallengeRequest{ChallengeToken: challenge.ChallengeToken}})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = s.do(t, call{method: http.MethodPost, path: "/v1/auth/2fa/verify", body: authsdk.VerifyTwoFactorRequest{
		ChallengeToken: challenge.ChallengeToken,
		Method:         "email",
		Code:           s.mail.get(s.mail.codes, "alice@example.com"),
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	second := decode[authsdk.TokenResponse](t, rec)

	rec = s.do(t, call{method: http.MethodPost, path: "/v1/2fa/email/code", token: &second})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = s.do(t, call{method: http.MethodPost, path: "/v1/2fa/email/disable", token: &second,
		body: authsdk.ProofRequest{Code: s.mail.get(s.mail.codes, "alice@example.com")}})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
}

func TestWebAuthnRoutes(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.register(t, "alice@example.com")
	tok := s.login(t, "alice@example.com")

	rec := s.do(t, call{method: http.MethodGet, path: "/v1/2fa/webauthn/credentials", token: tok})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, decode[authsdk.ListWebAuthnCredentialsResponse](t, rec).Credentials)

	rec = s.do(t, call{method: http.MethodDelete, path: "/v1/2fa/webauthn/credentials/nope", token: tok})
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, authsdk.ErrorCodeCredentialNotFound, errorCode(t, rec))

	rec = s.do(t, call{method: http.MethodPost, path: "/v1/2fa/webauthn/configure", token: tok})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, authsdk.ErrorCodeInvalidRequest, errorCode(t, rec))

	rec = s.do(t, call{method: http.MethodPost, path: "/v1/2fa/webauthn/register/verify", token: tok, body: map[string]string{"name": "key"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRoutes(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	admin := s.register(t, "admin@example.com")
	require.Equal(t, domain.RoleAdmin, admin.Role)
	victim := s.register(t, "victim@example.com")

	adminTok := s.login(t, "admin@example.com")
	victimTok := s.login(t, "victim@example.com")

	t.Run("users are forbidden", func(t *testing.T) {
		for _, c := range []call{
			{method: http.MethodPost, path: "/v1/admin/users/" + admin.ID + "/revoke-sessions"},
			{method: http.MethodGet, path: "/v1/admin/keys"},
			{method: http.MethodPost, path: "/v1/admin/keys/rotate"},
		} {
			c.token = victimTok
			rec := s.do(t, c)
			require.Equal(t, http.StatusForbidden, rec.Code, c.path)
			require.Equal(t, authsdk.ErrorCodeInsufficientRole, errorCode(t, rec))
		}
	})

	t.Run("anonymous is unauthorized", func(t *testing.T) {
		rec := s.do(t, call{method: http.MethodGet, path: "/v1/admin/keys"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, `Bearer error="invalid_token"`, rec.Header().Get("WWW-Authenticate"))
	})

	t.Run("key rotation", func(t *testing.T) {
		before := decode[authsdk.ListSigningKeysResponse](t, s.do(t, call{method: http.MethodGet, path: "/v1/admin/keys", token: adminTok}))
		require.Len(t, before.Keys, 1)

		rec := s.do(t, call{method: http.MethodPost, path: "/v1/admin/keys/rotate", token: adminTok, body: authsdk.RotateKeyRequest{}})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		rotated := decode[authsdk.RotateKeyResponse](t, rec)
		require.Equal(t, 2, rotated.ActiveKeys)

		jwks := decode[jwtx.JWKS](t, s.do(t, call{method: http.MethodGet, path: "/.well-known/jwks.json"}))
		require.Len(t, jwks.Keys, 2)

		rec = s.do(t, call{method: http.MethodPost, path: "/v1/admin/keys/" + before.Keys[0].Kid + "/retire", token: adminTok})
		require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

		rec = s.do(t, call{method: http.MethodPost, path: "/v1/admin/keys/" + rotated.Kid + "/retire", token: adminTok})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		rec = s.do(t, call{method: http.MethodPost, path: "/v1/admin/keys/unknown/retire", token: adminTok})
		require.Equal(t, http.StatusNotFound, rec.Code)

		// Tokens signed by the retired key keep verifying.
		require.Equal(t, http.StatusOK, s.do(t, call{method: http.MethodGet, path: "/v1/me", token: adminTok}).Code)
	})

	t.Run("revoke user sessions", func(t *testing.T) {
		rec := s.do(t, call{method: http.MethodPost, path: "/v1/admin/users/" + victim.ID + "/revoke-sessions", token: adminTok})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.EqualValues(t, 1, decode[authsdk.RevokeSessionsResponse](t, rec).Revoked)

		rec = s.do(t, call{method: http.MethodGet, path: "/v1/me", token: victimTok})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, authsdk.ErrorCodeSessionRevoked, errorCode(t, rec))

		rec = s.do(t, call{method: http.MethodPost, path: "/v1/admin/users/01J00000000000000000000000/revoke-sessions", token: adminTok})
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestSystemRoutes(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	live := decode[authsdk.HealthResponse](t, s.do(t, call{method: http.MethodGet, path: "/livez"}))
	require.Equal(t, "ok", live.Status)
	require.Equal(t, "test", live.Version)

	rec := s.do(t, call{method: http.MethodGet, path: "/readyz"})
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decode[authsdk.HealthResponse](t, rec)
	require.Equal(t, "ok", ready.Checks.Database)
	require.Equal(t, "ok", ready.Checks.Signer)
	require.Empty(t, ready.Checks.Cache)

	t.Run("failing cache degrades", func(t *testing.T) {
		s := newTestServer(t)
		s.router.Cache = failingPinger{}
		s.router.Mux = http.NewServeMux()
		s.router.ApplyRoutes()

		rec := s.do(t, call{method: http.MethodGet, path: "/readyz"})
		require.Equal(t, http.StatusOK, rec.Code)
		ready := decode[authsdk.HealthResponse](t, rec)
		require.Equal(t, "degraded", ready.Status)
		require.Contains(t, ready.Checks.Cache, "error")
	})
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return context.DeadlineExceeded }

func TestRateLimit(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.router.Limits.Strict = httpx.RateLimitConfig{RequestsPerWindow: 2, Window: time.Minute, Burst: 2}
	s.router.Mux = http.NewServeMux()
	s.router.ApplyRoutes()

	body := authsdk.LoginRequest{Email: "alice@example.com", Password: "wrong password"}
	for range 2 {
		rec := s.do(t, call{method: http.MethodPost, path: "/v1/auth/login", body: body})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := s.do(t, call{method: http.MethodPost, path: "/v1/auth/login", body: body})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, authsdk.ErrorCodeRateLimited, errorCode(t, rec))
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	// A different email has its own bucket.
	rec = s.do(t, call{method: http.MethodPost, path: "/v1/auth/login", body: authsdk.LoginRequest{Email: "bob@example.com", Password: "wrong password"}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
