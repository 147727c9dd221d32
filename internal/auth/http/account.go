package http

import (
	"net/http"

	"github.com/aussiebroadwan/tabauth/internal/auth/domain"
	"github.com/aussiebroadwan/tabauth/internal/auth/gateway"
	"github.com/aussiebroadwan/tabauth/internal/auth/service"
	"github.com/aussiebroadwan/tabauth/pkg/authsdk"
	"github.com/aussiebroadwan/tabauth/pkg/httpx"
)

// AccountHandler serves the signed in user's profile, password and sessions.
type AccountHandler struct {
	Credentials *service.CredentialService
	Sessions    *service.SessionService
	Cookies     CookieConfig
}

func userResponse(u domain.User) authsdk.UserResponse {
	return authsdk.UserResponse{
		ID:            u.ID,
		Email:         u.Email,
		Role:          u.Role,
		Locale:        u.Locale,
		EmailVerified: u.EmailVerified(),
		CreatedAt:     u.CreatedAt,
	}
}

// HandleMe handles GET /v1/me
//
//	@Summary		Get the signed in user
//	@Tags			Account
//	@Produce		json
//	@Success		200	{object}	authsdk.UserResponse
//	@Failure		401	{object}	authsdk.ErrorResponse
//	@Security		BearerAuth
//	@Router			/v1/me [get]
func (h *AccountHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := gateway.PrincipalFromContext(r.Context())
	user, err := h.Credentials.GetUser(r.Context(), p.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, userResponse(user))
}

// HandleDeleteAccount handles DELETE /v1/me
//
//	@Summary		Delete the account
//	@Description	Requires the current password. Removes the account with its sessions, second factors and keys.
//	@Tags			Account
//	@Accept			json
//	@Param			body	body	authsdk.DeleteAccountRequest	true	"Password confirmation"
//	@Success		204		"account deleted"
//	@Failure		400		{object}	authsdk.ErrorResponse
//	@Failure		401		{object}	authsdk.ErrorResponse	"invalid_credentials"
//	@Security		BearerAuth
//	@Router			/v1/me [delete]
func (h *AccountHandler) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	var req authsdk.DeleteAccountRequest
	if err := httpx.DecodeJSON(r, &req, false); err != nil {
		badRequest(w, r)
		return
	}

	p, _ := gateway.PrincipalFromContext(r.Context())
	if err := h.Credentials.DeleteAccount(r.Context(), p.UserID, req.Password); err != nil {
		writeError(w, r, err)
		return
	}
	h.Cookies.clearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

// HandleChangePassword handles POST /v1/auth/password/change
//
//	@Summary		Change the password
//	@Description	Requires the current password. Every session, including this one, is ended.
//	@Tags			Account
//	@Accept			json
//	@Param			body	body	authsdk.ChangePasswordRequest	true	"Current and new password"
//	@Success		204		"password changed"
//	@Failure		400		{object}	authsdk.ErrorResponse	"weak_password"
//	@Failure		401		{object}	authsdk.ErrorResponse	"invalid_credentials"
//	@Security		BearerAuth
//	@Router			/v1/auth/password/change [post]
func (h *AccountHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req authsdk.ChangePasswordRequest
	if err := httpx.DecodeJSON(r, &req, false); err != nil {
		badRequest(w, r)
		return
	}

	p, _ := gateway.PrincipalFromContext(r.Context())
	if err := h.Credentials.ChangePassword(r.Context(), p.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		writeError(w, r, err)
		return
	}
	h.Cookies.clearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

// HandleResendVerification handles POST /v1/auth/email/resend
//
//	@Summary		Resend the verification email
//	@Tags			Account
//	@Success		204	"email sent, or already verified"
//	@Failure		401	{object}	authsdk.ErrorResponse
//	@Security		BearerAuth
//	@Router			/v1/auth/email/resend [post]
func (h *AccountHandler) HandleResendVerification(w http.ResponseWriter, r *http.Request) {
	p, _ := gateway.PrincipalFromContext(r.Context())
	if err := h.Credentials.ResendEmailVerification(r.Context(), p.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListSessions handles GET /v1/sessions
//
//	@Summary		List active sessions
//	@Description	Lists the account's unexpired sessions; the calling session is marked is_current.
//	@Tags			Sessions
//	@Produce		json
//	@Success		200	{object}	authsdk.ListSessionsResponse
//	@Failure		401	{object}	authsdk.ErrorResponse
//	@Security		BearerAuth
//	@Router			/v1/sessions [get]
func (h *AccountHandler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	p, _ := gateway.PrincipalFromContext(r.Context())
	views, err := h.Sessions.ListActiveSessions(r.Context(), p.UserID, p.SessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]authsdk.SessionInfo, len(views))
	for i, v := range views {
		out[i] = authsdk.SessionInfo(v)
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.ListSessionsResponse{Sessions: out})
}

// HandleRevokeSession handles DELETE /v1/sessions/{id}
//
//	@Summary		Revoke a session
//	@Description	Ends another session of the account. Use logout to end the current one.
//	@Tags			Sessions
//	@Param			id	path	string	true	"Session ID"
//	@Success		204	"session revoked"
//	@Failure		400	{object}	authsdk.ErrorResponse	"cannot_revoke_current_session"
//	@Failure		401	{object}	authsdk.ErrorResponse
//	@Failure		404	{object}	authsdk.ErrorResponse	"session_not_found"
//	@Security		BearerAuth
//	@Router			/v1/sessions/{id} [delete]
func (h *AccountHandler) HandleRevokeSession(w http.ResponseWriter, r *http.Request) {
	p, _ := gateway.PrincipalFromContext(r.Context())
	if err := h.Sessions.RevokeSession(r.Context(), p.UserID, r.PathValue("id"), p.SessionID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRevokeOtherSessions handles DELETE /v1/sessions
//
//	@Summary		Revoke all other sessions
//	@Description	Ends every session of the account except the calling one.
//	@Tags			Sessions
//	@Produce		json
//	@Success		200	{object}	authsdk.RevokeSessionsResponse
//	@Failure		401	{object}	authsdk.ErrorResponse
//	@Security		BearerAuth
//	@Router			/v1/sessions [delete]
func (h *AccountHandler) HandleRevokeOtherSessions(w http.ResponseWriter, r *http.Request) {
	p, _ := gateway.PrincipalFromContext(r.Context())
	n, err := h.Sessions.RevokeAllSessions(r.Context(), p.UserID, p.SessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.RevokeSessionsResponse{Revoked: n})
}
