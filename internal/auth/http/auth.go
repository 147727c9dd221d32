package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/tabauth/internal/auth/domain"
	"github.com/aussiebroadwan/tabauth/internal/auth/gateway"
	"github.com/aussiebroadwan/tabauth/internal/auth/service"
	"github.com/aussiebroadwan/tabauth/pkg/authsdk"
	"github.com/aussiebroadwan/tabauth/pkg/httpx"
	"github.com/aussiebroadwan/tabauth/pkg/slogx"
)

// AuthHandler serves registration, login, refresh and the emailed token flows.
type AuthHandler struct {
	Credentials *service.CredentialService
	Sessions    *service.SessionService
	Login       *service.LoginService
	Cookies     CookieConfig
	Now         func() time.Time
}

// deviceContext collects what the edge knows about the caller's device.
func deviceContext(r *http.Request) service.DeviceContext {
	dc := service.DeviceContext{
		IP:        httpx.IPKeyExtractor(r),
		UserAgent: r.UserAgent(),
	}
	if c, err := r.Cookie(gateway.SessionIDCookie); err == nil {
		dc.SessionID = c.Value
	}
	return dc
}

// issue answers with the new token pair in the body and as cookies.
func (h *AuthHandler) issue(w http.ResponseWriter, pair domain.TokenPair) {
	now := h.Now()
	h.Cookies.setSessionCookies(w, pair, now)
	httpx.WriteJSON(w, http.StatusOK, tokenResponse(pair, now))
}

// HandleRegister handles POST /v1/auth/register
//
//	@Summary		Register an account
//	@Description	Creates an account and emails a verification link. No session is created.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			Accept-Language	header		string					false	"Language for error messages"
//	@Param			body			body		authsdk.RegisterRequest	true	"Account details"
//	@Success		201				{object}	authsdk.UserResponse
//	@Failure		400				{object}	authsdk.ErrorResponse	"invalid_request or weak_password"
//	@Failure		409				{object}	authsdk.ErrorResponse	"email_taken"
//	@Failure		429				{object}	authsdk.ErrorResponse
//	@Router			/v1/auth/register [post]
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RegisterRequest
	if err := httpx.DecodeJSON(r, &req, false); err != nil {
		badRequest(w, r)
		return
	}

	user, err := h.Credentials.Register(r.Context(), req.Email, req.Password, req.Locale)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, userResponse(user))
}

// HandleLogin handles POST /v1/auth/login
//
//	@Summary		Log in with email and password
//	@Description	Returns tokens, or a 401 two_factor_required challenge when the account has a second factor.
//	@Description	Tokens are also set as the accessToken, refreshToken and sessionId cookies.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.LoginRequest	true	"Credentials"
//	@Success		200		{object}	authsdk.TokenResponse
//	@Failure		400		{object}	authsdk.ErrorResponse
//	@Failure		401		{object}	authsdk.TwoFactorChallengeResponse	"invalid_credentials or two_factor_required"
//	@Failure		429		{object}	authsdk.ErrorResponse
//	@Router			/v1/auth/login [post]
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req authsdk.LoginRequest
	if err := httpx.DecodeJSON(r, &req, false); err != nil {
		badRequest(w, r)
		return
	}

	pair, err := h.Login.Login(r.Context(), req.Email, req.Password, deviceContext(r), req.RememberMe)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.issue(w, pair)
}

// HandleVerifyTwoFactor handles POST /v1/auth/2fa/verify
//
//	@Summary		Complete a login with a code
//	@Description	Verifies an app code, an emailed code or a backup code against a pending login.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.VerifyTwoFactorRequest	true	"Challenge and code"
//	@Success		200		{object}	authsdk.TokenResponse
//	@Failure		400		{object}	authsdk.ErrorResponse
//	@Failure		401		{object}	authsdk.ErrorResponse	"invalid_token or two_factor_invalid_code"
//	@Failure		423		{object}	authsdk.ErrorResponse	"two_factor_locked"
//	@Failure		429		{object}	authsdk.ErrorResponse
//	@Router			/v1/auth/2fa/verify [post]
func (h *AuthHandler) HandleVerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req authsdk.VerifyTwoFactorRequest
	if err := httpx.DecodeJSON(r, &req, false); err != nil {
		badRequest(w, r)
		return
	}
	method, ok := domain.ParseLoginMethod(req.Method)
	if !ok || method == domain.MethodWebAuthn {
		badRequest(w, r)
		return
	}

	pair, err := h.Login.VerifyTwoFactor(r.Context(), req.ChallengeToken, method, req.Code, deviceContext(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.issue(w, pair)
}

// HandleSendLoginCode handles POST /v1/auth/2fa/email/send
//
//	@Summary		Email a login code
//	@Description	Sends a fresh code for a pending login when the email method is enabled.
//	@Tags			Auth
//	@Accept			json
//	@Param			body	body	authsdk.ChallengeRequest	true	"Pending login"
//	@Success		204		"code sent"
//	@Failure		400		{object}	authsdk.ErrorResponse
//	@Failure		401		{object}	authsdk.ErrorResponse	"invalid_token"
//	@Failure		429		{object}	authsdk.ErrorResponse
//	@Router			/v1/auth/2fa/email/send [post]
func (h *AuthHandler) HandleSendLoginCode(w http.ResponseWriter, r *http.Request) {
	var req authsdk.ChallengeRequest
	if err := httpx.DecodeJSON(r, &req, false); err != nil {
		badRequest(w, r)
		return
	}

	if err := h.Login.SendLoginCode(r.Context(), req.ChallengeToken); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleWebAuthnOptions handles POST /v1/auth/webauthn/options
//
//	@Summary		Start a security key login
//	@Description	Returns credential request options for navigator.credentials.get. Pass the challenge token of a
//	@Description	pending password login, or an email address for a passwordless login.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.WebAuthnLoginOptionsRequest	true	"Challenge token or email"
//	@Success		200		{object}	object	"PublicKeyCredentialRequestOptions"
//	@Failure		400		{object}	authsdk.ErrorResponse
//	@Failure		401		{object}	authsdk.ErrorResponse	"webauthn_failed"
//	@Failure		429		{object}	authsdk.ErrorResponse
//	@Router			/v1/auth/webauthn/options [post]
func (h *AuthHandler) HandleWebAuthnOptions(w http.ResponseWriter, r *http.Request) {
	var req authsdk.WebAuthnLoginOptionsRequest
	if err := httpx.DecodeJSON(r, &req, false); err != nil {
		badRequest(w, r)
		return
	}

	options, err := h.Login.BeginWebAuthnLogin(r.Context(), service.WebAuthnLoginTarget{
		ChallengeToken: req.ChallengeToken,
		Email:          req.Email,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, options)
}

// HandleWebAuthnVerify handles POST /v1/auth/webauthn/verify
//
//	@Summary		Finish a security key login
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.WebAuthnLoginVerifyRequest	true	"Assertion"
//	@Success		200		{object}	authsdk.TokenResponse
//	@Failure		400		{object}	authsdk.ErrorResponse
//	@Failure		401		{object}	authsdk.ErrorResponse	"webauthn_failed"
//	@Failure		423		{object}	authsdk.ErrorResponse	"two_factor_locked"
//	@Failure		429		{object}	authsdk.ErrorResponse
//	@Router			/v1/auth/webauthn/verify [post]
func (h *AuthHandler) HandleWebAuthnVerify(w http.ResponseWriter, r *http.Request) {
	var req authsdk.WebAuthnLoginVerifyRequest
	if err := httpx.DecodeJSON(r, &req, false); err != nil || len(req.Response) == 0 {
		badRequest(w, r)
		return
	}

	target := service.WebAuthnLoginTarget{
		ChallengeToken: req.ChallengeToken,
		Email:          req.Email,
		RememberMe:     req.RememberMe,
	}
	pair, err := h.Login.FinishWebAuthnLogin(r.Context(), target, req.Response, deviceContext(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.issue(w, pair)
}

// HandleRefresh handles POST /v1/auth/refresh
//
//	@Summary		Rotate the refresh token
//	@Description	Reads the session id and refresh token from the JSON body, or from the cookies when the body is empty.
//	@Description	Presenting an already rotated refresh token revokes the session.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.RefreshRequest	false	"Session and refresh token"
//	@Success		200		{object}	authsdk.TokenResponse
//	@Failure		400		{object}	authsdk.ErrorResponse
//	@Failure		401		{object}	authsdk.ErrorResponse	"invalid_token, session_expired or session_revoked"
//	@Failure		409		{object}	authsdk.ErrorResponse	"concurrent_modification"
//	@Failure		429		{object}	authsdk.ErrorResponse
//	@Router			/v1/auth/refresh [post]
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RefreshRequest
	if err := httpx.DecodeJSON(r, &req, true); err != nil {
		badRequest(w, r)
		return
	}
	if req.SessionID == "" {
		if c, err := r.Cookie(gateway.SessionIDCookie); err == nil {
			req.SessionID = c.Value
		}
	}
	if req.RefreshToken == "" {
		if c, err := r.Cookie(gateway.RefreshTokenCookie); err == nil {
			req.RefreshToken = c.Value
		}
	}
	if req.SessionID == "" || req.RefreshToken == "" {
		writeError(w, r, service.ErrInvalidToken)
		return
	}

	pair, err := h.Sessions.Refresh(r.Context(), req.SessionID, req.RefreshToken)
	if err != nil {
		if !errors.Is(err, service.ErrConcurrentModification) {
			h.Cookies.clearSessionCookies(w)
		}
		writeError(w, r, err)
		return
	}
	h.issue(w, pair)
}

// HandleForgotPassword handles POST /v1/auth/password/forgot
//
//	@Summary		Request a password reset
//	@Description	Always answers 202 with the same body so accounts cannot be enumerated.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.EmailRequest	true	"Account email"
//	@Success		202		{object}	authsdk.StatusResponse
//	@Failure		429		{object}	authsdk.ErrorResponse
//	@Router			/v1/auth/password/forgot [post]
func (h *AuthHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	h.handleResetRequest(w, r, h.Credentials.RequestPasswordReset)
}

// HandleResendPasswordReset handles POST /v1/auth/password/resend
//
//	@Summary		Resend a password reset
//	@Description	Issues a new reset token with the longer resend lifetime. Always answers 202.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.EmailRequest	true	"Account email"
//	@Success		202		{object}	authsdk.StatusResponse
//	@Failure		429		{object}	authsdk.ErrorResponse
//	@Router			/v1/auth/password/resend [post]
func (h *AuthHandler) HandleResendPasswordReset(w http.ResponseWriter, r *http.Request) {
	h.handleResetRequest(w, r, h.Credentials.ResendPasswordReset)
}

func (h *AuthHandler) handleResetRequest(w http.ResponseWriter, r *http.Request, send func(ctx context.Context, email string) error) {
	var req authsdk.EmailRequest
	// A malformed body gets the same answer as an unknown address.
	if err := httpx.DecodeJSON(r, &req, false); err == nil && req.Email != "" {
		if err := send(r.Context(), req.Email); err != nil {
			slogx.FromContext(r.Context()).Error("password reset request failed", slog.Any("error", err))
		}
	}
	httpx.WriteJSON(w, http.StatusAccepted, authsdk.StatusResponse{Status: "accepted"})
}

// HandleResetPassword handles POST /v1/auth/password/reset
//
//	@Summary		Reset the password
//	@Description	Sets a new password with an emailed token and ends every session of the account.
//	@Tags			Auth
//	@Accept			json
//	@Param			body	body	authsdk.ResetPasswordRequest	true	"Token and new password"
//	@Success		204		"password changed"
//	@Failure		400		{object}	authsdk.ErrorResponse	"weak_password"
//	@Failure		401		{object}	authsdk.ErrorResponse	"invalid_token"
//	@Failure		429		{object}	authsdk.ErrorResponse
//	@Router			/v1/auth/password/reset [post]
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req authsdk.ResetPasswordRequest
	if err := httpx.DecodeJSON(r, &req, false); err != nil {
		badRequest(w, r)
		return
	}

	if err := h.Credentials.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleVerifyEmail handles POST /v1/auth/email/verify
//
//	@Summary		Verify the email address
//	@Tags			Auth
//	@Accept			json
//	@Param			body	body	authsdk.VerifyEmailRequest	true	"Emailed token"
//	@Success		204		"address verified"
//	@Failure		400		{object}	authsdk.ErrorResponse
//	@Failure		401		{object}	authsdk.ErrorResponse	"invalid_token"
//	@Failure		429		{object}	authsdk.ErrorResponse
//	@Router			/v1/auth/email/verify [post]
func (h *AuthHandler) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req authsdk.VerifyEmailRequest
	if err := httpx.DecodeJSON(r, &req, false); err != nil {
		badRequest(w, r)
		return
	}

	if err := h.Credentials.VerifyEmail(r.Context(), req.Token); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleLogout handles POST /v1/auth/logout
//
//	@Summary		Log out
//	@Description	Ends the current session and clears the session cookies.
//	@Tags			Auth
//	@Success		204	"logged out"
//	@Failure		401	{object}	authsdk.ErrorResponse
//	@Security		BearerAuth
//	@Router			/v1/auth/logout [post]
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	p, _ := gateway.PrincipalFromContext(r.Context())
	if err := h.Sessions.Logout(r.Context(), p.SessionID); err != nil {
		writeError(w, r, err)
		return
	}
	h.Cookies.clearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

// HandleLogoutAll handles POST /v1/auth/logout-all
//
//	@Summary		Log out everywhere
//	@Description	Ends every session of the account and invalidates all outstanding access tokens.
//	@Tags			Auth
//	@Success		204	"logged out"
//	@Failure		401	{object}	authsdk.ErrorResponse
//	@Security		BearerAuth
//	@Router			/v1/auth/logout-all [post]
func (h *AuthHandler) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	p, _ := gateway.PrincipalFromContext(r.Context())
	if err := h.Credentials.LogoutEverywhere(r.Context(), p.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	h.Cookies.clearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}
