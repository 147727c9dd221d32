package http

import (
	"net/http"

	"github.com/aussiebroadwan/tabauth/internal/auth/domain"
	"github.com/aussiebroadwan/tabauth/internal/auth/gateway"
	"github.com/aussiebroadwan/tabauth/internal/auth/service"
	"github.com/aussiebroadwan/tabauth/pkg/authsdk"
	"github.com/aussiebroadwan/tabauth/pkg/httpx"
)

// TwoFactorHandler manages the signed in user's second factors.
type TwoFactorHandler struct {
	Credentials *service.CredentialService
	TwoFactor   *service.TwoFactorService
	WebAuthn    *service.WebAuthnService
}

// user loads the principal's account. Writes the error response on failure.
func (h *TwoFactorHandler) user(w http.ResponseWriter, r *http.Request) (domain.User, bool) {
	p, _ := gateway.PrincipalFromContext(r.Context())
	u, err := h.Credentials.GetUser(r.Context(), p.UserID)
	if err != nil {
		writeError(w, r, err)
		return domain.User{}, false
	}
	return u, true
}

func methodStrings(ms []domain.Method) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = string(m)
	}
	return out
}

func credentialInfo(c domain.WebAuthnCredential) authsdk.WebAuthnCredentialInfo {
	return authsdk.WebAuthnCredentialInfo{
		ID:         c.ID,
		Name:       c.DeviceName,
		DeviceType: c.DeviceType,
		BackedUp:   c.BackupState,
		CreatedAt:  c.CreatedAt,
		LastUsedAt: c.LastUsedAt,
	}
}

// HandleStatus handles GET /v1/2fa
//
//	@Summary		Two-factor status
//	@Tags			TwoFactor
//	@Produce		json
//	@Success		200	{object}	authsdk.TwoFactorStatusResponse
//	@Failure		401	{object}	authsdk.ErrorResponse
//	@Security		BearerAuth
//	@Router			/v1/2fa [get]
func (h *TwoFactorHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	p, _ := gateway.PrincipalFromContext(r.Context())
	st, err := h.TwoFactor.Status(r.Context(), p.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.TwoFactorStatusResponse{
		Enabled:              st.Enabled,
		Methods:              methodStrings(st.Methods),
		PreferredMethod:      string(st.PreferredMethod),
		BackupCodesRemaining: st.BackupCodesRemaining,
		WebAuthnCredentials:  st.WebAuthnCredentials,
		LockedUntil:          st.LockedUntil,
	})
}

// HandleSetPreferred handles POST /v1/2fa/preferred
//
//	@Summary		Set the preferred method
//	@Description	The method offered first at login. It must be enabled.
//	@Tags			TwoFactor
//	@Accept			json
//	@Param			body	body	authsdk.PreferredMethodRequest	true	"Method"
//	@Success		204		"preferred method changed"
//	@Failure		400		{object}	authsdk.ErrorResponse	"invalid_request or two_factor_setup_required"
//	@Failure		401		{object}	authsdk.ErrorResponse
//	@Security		BearerAuth
//	@Router			/v1/2fa/preferred [post]
func (h *TwoFactorHandler) HandleSetPreferred(w http.ResponseWriter, r *http.Request) {
	var req authsdk.PreferredMethodRequest
	if err := httpx.DecodeJSON(r, &req, false); err != nil {
		badRequest(w, r)
		return
	}

	p, _ := gateway.PrincipalFromContext(r.Context())
	if err := h.TwoFactor.SetPreferredMethod(r.Context(), p.UserID, domain.Method(req.Method)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRegenerateBackupCodes handles POST /v1/2fa/backup-codes
//
//	@Summary		Regenerate backup codes
//	@Description	Replaces every backup code. Requires the password or a live code for the preferred method.
//	@Tags			TwoFactor
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.ProofRequest	true	"Password or code"
//	@Success		200		{object}	authsdk.BackupCodesResponse
//	@Failure		400		{object}	authsdk.ErrorResponse	"two_factor_setup_required"
//	@Failure		401		{object}	authsdk.ErrorResponse	"invalid_credentials or two_factor_invalid_code"
//	@Failure		423		{object}	authsdk.ErrorResponse	"two_factor_locked"
//	@Security		BearerAuth
//	@Router			/v1/2fa/backup-codes [post]
func (h *TwoFactorHandler) HandleRegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	var req authsdk.ProofRequest
	if err := httpx.DecodeJSON(r, &req, false); err != nil {
		badRequest(w, r)
		return
	}
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	codes, err := h.TwoFactor.RegenerateBackupCodes(r.Context(), user, service.Proof{Password: req.Password, Code: req.Code})
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.BackupCodesResponse{Codes: codes})
}

// HandleConfigure handles POST /v1/2fa/{method}/configure
//
//	@Summary		Start setting up a method
//	@Description	app returns a new TOTP secret and otpauth URL. email sends a setup code to the account address.
//	@Description	Security keys are set up through the webauthn register endpoints.
//	@Tags			TwoFactor
//	@Produce		json
//	@Param			method	path		string	true	"Method"	Enums(app, email)
//	@Success		200		{object}	authsdk.ConfigureMethodResponse
//	@Failure		400		{object}	authsdk.ErrorResponse
//	@Failure		401		{object}	authsdk.ErrorResponse
//	@Failure		409		{object}	authsdk.ErrorResponse	"two_factor_already_enabled"
//	@Security		BearerAuth
//	@Router			/v1/2fa/{method}/configure [post]
func (h *TwoFactorHandler) HandleConfigure(w http.ResponseWriter, r *http.Request) {
	method, ok := domain.ParseMethod(r.PathValue("method"))
	if !ok {
		badRequest(w, r)
		return
	}
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	setup, err := h.TwoFactor.Configure(r.Context(), user, method)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.ConfigureMethodResponse{
		Method: string(method),
		Secret: setup.Secret,
		URL:    setup.URL,
	})
}

// HandleEnable handles POST /v1/2fa/{method}/enable
//
//	@Summary		Enable a method
//	@Description	Confirms setup with a code. Returns backup codes issued for the account, if any were created.
//	@Tags			TwoFactor
//	@Accept			json
//	@Produce		json
//	@Param			method	path		string						true	"Method"	Enums(app, email)
//	@Param			body	body		authsdk.EnableMethodRequest	true	"Setup code"
//	@Success		200		{object}	authsdk.BackupCodesResponse
//	@Failure		400		{object}	authsdk.ErrorResponse	"two_factor_setup_required"
//	@Failure		401		{object}	authsdk.ErrorResponse	"two_factor_invalid_code"
//	@Failure		409		{object}	authsdk.ErrorResponse	"two_factor_already_enabled or concurrent_modification"
//	@Security		BearerAuth
//	@Router			/v1/2fa/{method}/enable [post]
func (h *TwoFactorHandler) HandleEnable(w http.ResponseWriter, r *http.Request) {
	method, ok := domain.ParseMethod(r.PathValue("method"))
	if !ok || method == domain.MethodWebAuthn {
		badRequest(w, r)
		return
	}
	var req authsdk.EnableMethodRequest
	if err := httpx.DecodeJSON(r, &req, false); err != nil {
		badRequest(w, r)
		return
	}
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	codes, err := h.TwoFactor.Enable(r.Context(), user, method, req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.BackupCodesResponse{Codes: codes})
}

// HandleDisable handles POST /v1/2fa/{method}/disable
//
//	@Summary		Disable a method
//	@Description	Requires the password or a live code for the method. Disabling the last method also removes the backup codes.
//	@Tags			TwoFactor
//	@Accept			json
//	@Param			method	path	string					true	"Method"	Enums(app, email, webauthn)
//	@Param			body	body	authsdk.ProofRequest	true	"Password or code"
//	@Success		204		"method disabled"
//	@Failure		400		{object}	authsdk.ErrorResponse	"two_factor_setup_required"
//	@Failure		401		{object}	authsdk.ErrorResponse	"invalid_credentials or two_factor_invalid_code"
//	@Security		BearerAuth
//	@Router			/v1/2fa/{method}/disable [post]
func (h *TwoFactorHandler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	method, ok := domain.ParseMethod(r.PathValue("method"))
	if !ok {
		badRequest(w, r)
		return
	}
	var req authsdk.ProofRequest
	if err := httpx.DecodeJSON(r, &req, false); err != nil {
		badRequest(w, r)
		return
	}
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	if err := h.TwoFactor.Disable(r.Context(), user, method, service.Proof{Password: req.Password, Code: req.Code}); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSendDisableCode handles POST /v1/2fa/email/code
//
//	@Summary		Email a code for a sensitive change
//	@Description	Sends a code that can prove control of the email method when disabling it or regenerating backup codes.
//	@Tags			TwoFactor
//	@Success		204	"code sent"
//	@Failure		400	{object}	authsdk.ErrorResponse	"two_factor_setup_required"
//	@Failure		401	{object}	authsdk.ErrorResponse
//	@Security		BearerAuth
//	@Router			/v1/2fa/email/code [post]
func (h *TwoFactorHandler) HandleSendDisableCode(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	if err := h.TwoFactor.SendCode(r.Context(), user, service.CodeContextDisable); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleWebAuthnRegisterOptions handles POST /v1/2fa/webauthn/register/options
//
//	@Summary		Start a security key registration
//	@Description	Returns credential creation options for navigator.credentials.create.
//	@Tags			WebAuthn
//	@Produce		json
//	@Success		200	{object}	object	"PublicKeyCredentialCreationOptions"
//	@Failure		401	{object}	authsdk.ErrorResponse
//	@Security		BearerAuth
//	@Router			/v1/2fa/webauthn/register/options [post]
func (h *TwoFactorHandler) HandleWebAuthnRegisterOptions(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	options, err := h.WebAuthn.BeginRegistration(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, options)
}

// HandleWebAuthnRegisterVerify handles POST /v1/2fa/webauthn/register/verify
//
//	@Summary		Finish a security key registration
//	@Description	Stores the key. The first key enables the webauthn method and may issue backup codes.
//	@Tags			WebAuthn
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.WebAuthnRegisterVerifyRequest	true	"Attestation"
//	@Success		201		{object}	authsdk.WebAuthnRegisterResponse
//	@Failure		400		{object}	authsdk.ErrorResponse
//	@Failure		401		{object}	authsdk.ErrorResponse	"webauthn_failed"
//	@Security		BearerAuth
//	@Router			/v1/2fa/webauthn/register/verify [post]
func (h *TwoFactorHandler) HandleWebAuthnRegisterVerify(w http.ResponseWriter, r *http.Request) {
	var req authsdk.WebAuthnRegisterVerifyRequest
	if err := httpx.DecodeJSON(r, &req, false); err != nil || len(req.Response) == 0 {
		badRequest(w, r)
		return
	}
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	cred, codes, err := h.WebAuthn.FinishRegistration(r.Context(), user, req.Response, req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, authsdk.WebAuthnRegisterResponse{
		Credential: credentialInfo(cred),
		Codes:      codes,
	})
}

// HandleListWebAuthnCredentials handles GET /v1/2fa/webauthn/credentials
//
//	@Summary		List security keys
//	@Tags			WebAuthn
//	@Produce		json
//	@Success		200	{object}	authsdk.ListWebAuthnCredentialsResponse
//	@Failure		401	{object}	authsdk.ErrorResponse
//	@Security		BearerAuth
//	@Router			/v1/2fa/webauthn/credentials [get]
func (h *TwoFactorHandler) HandleListWebAuthnCredentials(w http.ResponseWriter, r *http.Request) {
	p, _ := gateway.PrincipalFromContext(r.Context())
	creds, err := h.WebAuthn.ListCredentials(r.Context(), p.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]authsdk.WebAuthnCredentialInfo, len(creds))
	for i, c := range creds {
		out[i] = credentialInfo(c)
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.ListWebAuthnCredentialsResponse{Credentials: out})
}

// HandleDeleteWebAuthnCredential handles DELETE /v1/2fa/webauthn/credentials/{id}
//
//	@Summary		Remove a security key
//	@Description	Removing the last key disables the webauthn method.
//	@Tags			WebAuthn
//	@Param			id	path	string	true	"Credential ID"
//	@Success		204	"key removed"
//	@Failure		401	{object}	authsdk.ErrorResponse
//	@Failure		404	{object}	authsdk.ErrorResponse	"credential_not_found"
//	@Security		BearerAuth
//	@Router			/v1/2fa/webauthn/credentials/{id} [delete]
func (h *TwoFactorHandler) HandleDeleteWebAuthnCredential(w http.ResponseWriter, r *http.Request) {
	p, _ := gateway.PrincipalFromContext(r.Context())
	if err := h.WebAuthn.DeleteCredential(r.Context(), p.UserID, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
