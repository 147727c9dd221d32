package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/aussiebroadwan/tabauth/internal/auth/service"
	"github.com/aussiebroadwan/tabauth/pkg/authsdk"
	"github.com/aussiebroadwan/tabauth/pkg/i18nx"
	"github.com/aussiebroadwan/tabauth/pkg/slogx"
)

// errorTable maps service sentinels onto wire errors.
var errorTable = []struct {
	err error
	api *authsdk.APIError
}{
	{service.ErrInvalidCredentials, authsdk.ErrInvalidCredentials},
	{service.ErrInvalidToken, authsdk.ErrInvalidToken},
	{service.ErrSessionExpired, authsdk.ErrSessionExpired},
	{service.ErrSessionRevoked, authsdk.ErrSessionRevoked},
	{service.ErrSessionNotFound, authsdk.ErrSessionNotFound},
	{service.ErrCannotRevokeCurrent, authsdk.ErrCannotRevokeCurrent},
	{service.ErrTwoFactorInvalidCode, authsdk.ErrTwoFactorInvalidCode},
	{service.ErrTwoFactorLocked, authsdk.ErrTwoFactorLocked},
	{service.ErrTwoFactorSetupRequired, authsdk.ErrTwoFactorSetupRequired},
	{service.ErrTwoFactorAlreadyEnabled, authsdk.ErrTwoFactorAlreadyEnabled},
	{service.ErrWebAuthnFailed, authsdk.ErrWebAuthnFailed},
	{service.ErrConcurrentModification, authsdk.ErrConcurrentModification},
	{service.ErrCredentialNotFound, authsdk.ErrCredentialNotFound},
	{service.ErrEmailTaken, authsdk.ErrEmailTaken},
	{service.ErrInvalidRequest, authsdk.ErrInvalidRequest},
	{service.ErrRateLimited, authsdk.ErrRateLimited},
	{service.ErrSigningKeyNotFound, authsdk.ErrNotFound},
	{service.ErrUserNotFound, authsdk.ErrNotFound},
}

// apiError converts err for the wire. Unknown errors become server_error.
func apiError(err error) *authsdk.APIError {
	if errors.Is(err, service.ErrWeakPassword) {
		return authsdk.NewAPIError(http.StatusBadRequest, authsdk.ErrorCodeWeakPassword,
			service.MinPasswordLength, service.MaxPasswordLength)
	}
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.api
		}
	}
	return authsdk.ErrServerError
}

// writeError writes err in the caller's language. Infrastructure failures
// are logged and hidden behind server_error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	t := i18nx.FromRequest(r)

	var tfa *service.TwoFactorRequiredError
	if errors.As(err, &tfa) {
		twoFactorError(tfa).WriteError(w, t)
		return
	}

	api := apiError(err)
	log := slogx.FromContext(r.Context())
	if api == authsdk.ErrServerError {
		log.Error("request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	} else {
		log.Info("request rejected", slog.String("path", r.URL.Path), slog.String("error", api.Code))
	}
	api.WriteError(w, t)
}

func twoFactorError(e *service.TwoFactorRequiredError) *authsdk.TwoFactorRequiredError {
	methods := make([]string, 0, len(e.Challenge.Methods))
	for _, m := range e.Challenge.Methods {
		methods = append(methods, string(m))
	}
	return &authsdk.TwoFactorRequiredError{
		ChallengeToken:  e.Challenge.Token,
		Methods:         methods,
		PreferredMethod: string(e.Challenge.PreferredMethod),
		ExpiresAt:       e.Challenge.ExpiresAt,
	}
}

// badRequest is the response for bodies that fail to decode.
func badRequest(w http.ResponseWriter, r *http.Request) {
	authsdk.ErrInvalidRequest.WriteError(w, i18nx.FromRequest(r))
}

// rejectRateLimited is the httpx reject hook.
func rejectRateLimited(w http.ResponseWriter, r *http.Request) {
	authsdk.ErrRateLimited.WriteError(w, i18nx.FromRequest(r))
}
