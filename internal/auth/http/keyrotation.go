package http

import (
	"net/http"

	"github.com/aussiebroadwan/tabauth/internal/auth/service"
	"github.com/aussiebroadwan/tabauth/pkg/authsdk"
	"github.com/aussiebroadwan/tabauth/pkg/httpx"
)

// KeyRotationHandler manages JWT signing keys. Every route requires the admin role.
type KeyRotationHandler struct {
	KeyRotationService *service.KeyRotationService
}

// HandleRotate handles POST /v1/admin/keys/rotate
//
//	@Summary		Rotate signing keys
//	@Description	Generate a new signing key and optionally retire the current ones. Retired keys keep verifying until they expire.
//	@Tags			Admin
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.RotateKeyRequest	false	"Rotation options"
//	@Success		200		{object}	authsdk.RotateKeyResponse
//	@Failure		400		{object}	authsdk.ErrorResponse
//	@Failure		401		{object}	authsdk.ErrorResponse
//	@Failure		403		{object}	authsdk.ErrorResponse	"insufficient_role"
//	@Failure		500		{object}	authsdk.ErrorResponse
//	@Security		BearerAuth
//	@Router			/v1/admin/keys/rotate [post]
func (h *KeyRotationHandler) HandleRotate(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RotateKeyRequest
	if err := httpx.DecodeJSON(r, &req, true); err != nil {
		badRequest(w, r)
		return
	}

	resp, err := h.KeyRotationService.RotateKey(r.Context(), service.RotateKeyRequest{
		RetireExisting: req.RetireExisting,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.RotateKeyResponse{
		Kid:         resp.Kid,
		Algorithm:   resp.Algorithm,
		RetiredKids: resp.RetiredKids,
		ActiveKeys:  resp.ActiveKeys,
	})
}

// HandleListKeys handles GET /v1/admin/keys
//
//	@Summary		List signing keys
//	@Description	Lists persisted keys with their status, or the in-memory keys when running with ephemeral keys.
//	@Tags			Admin
//	@Produce		json
//	@Success		200	{object}	authsdk.ListSigningKeysResponse
//	@Failure		401	{object}	authsdk.ErrorResponse
//	@Failure		403	{object}	authsdk.ErrorResponse	"insufficient_role"
//	@Failure		500	{object}	authsdk.ErrorResponse
//	@Security		BearerAuth
//	@Router			/v1/admin/keys [get]
func (h *KeyRotationHandler) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.KeyRotationService.ListSigningKeys(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]authsdk.SigningKeyInfo, len(keys))
	for i, k := range keys {
		out[i] = authsdk.SigningKeyInfo{
			Kid:       k.Kid,
			Algorithm: k.Algorithm,
			Active:    k.Active,
			CreatedAt: k.CreatedAt,
			RetiredAt: k.RetiredAt,
			ExpiresAt: k.ExpiresAt,
		}
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.ListSigningKeysResponse{Keys: out})
}

// HandleRetireKey handles POST /v1/admin/keys/{kid}/retire
//
//	@Summary		Retire a signing key
//	@Description	Stop a key from signing without generating a new one. The last active key cannot be retired.
//	@Tags			Admin
//	@Produce		json
//	@Param			kid	path	string	true	"Key ID to retire"
//	@Success		204	"key retired"
//	@Failure		400	{object}	authsdk.ErrorResponse	"last active key"
//	@Failure		401	{object}	authsdk.ErrorResponse
//	@Failure		403	{object}	authsdk.ErrorResponse	"insufficient_role"
//	@Failure		404	{object}	authsdk.ErrorResponse	"key not found"
//	@Security		BearerAuth
//	@Router			/v1/admin/keys/{kid}/retire [post]
func (h *KeyRotationHandler) HandleRetireKey(w http.ResponseWriter, r *http.Request) {
	kid := r.PathValue("kid")
	if kid == "" {
		badRequest(w, r)
		return
	}

	if err := h.KeyRotationService.RetireKey(r.Context(), kid); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
