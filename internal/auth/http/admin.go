package http

import (
	"net/http"

	"github.com/aussiebroadwan/tabauth/internal/auth/service"
	"github.com/aussiebroadwan/tabauth/pkg/authsdk"
	"github.com/aussiebroadwan/tabauth/pkg/httpx"
	"github.com/aussiebroadwan/tabauth/pkg/slogx"
)

// AdminHandler serves user administration.
type AdminHandler struct {
	Credentials *service.CredentialService
}

// HandleRevokeUserSessions handles POST /v1/admin/users/{id}/revoke-sessions
//
//	@Summary		Revoke every session of a user
//	@Description	Deletes all sessions of the user and invalidates their outstanding access tokens.
//	@Tags			Admin
//	@Produce		json
//	@Param			id	path		string	true	"User ID"
//	@Success		200	{object}	authsdk.RevokeSessionsResponse
//	@Failure		401	{object}	authsdk.ErrorResponse
//	@Failure		403	{object}	authsdk.ErrorResponse	"insufficient_role"
//	@Failure		404	{object}	authsdk.ErrorResponse	"user not found"
//	@Security		BearerAuth
//	@Router			/v1/admin/users/{id}/revoke-sessions [post]
func (h *AdminHandler) HandleRevokeUserSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	n, err := h.Credentials.RevokeUserSessions(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slogx.FromContext(r.Context()).Info("admin revoked user sessions", "target_user_id", userID, "revoked", n)
	httpx.WriteJSON(w, http.StatusOK, authsdk.RevokeSessionsResponse{Revoked: n})
}
