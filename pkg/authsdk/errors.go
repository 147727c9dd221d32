package authsdk

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aussiebroadwan/tabauth/pkg/httpx"
	"github.com/aussiebroadwan/tabauth/pkg/i18nx"
)

// ============================================================================
// Error Codes
// ============================================================================

const (
	ErrorCodeInvalidCredentials      = "invalid_credentials"
	ErrorCodeInvalidToken            = "invalid_token"
	ErrorCodeSessionExpired          = "session_expired"
	ErrorCodeSessionRevoked          = "session_revoked"
	ErrorCodeSessionNotFound         = "session_not_found"
	ErrorCodeCannotRevokeCurrent     = "cannot_revoke_current_session"
	ErrorCodeTwoFactorRequired       = "two_factor_required"
	ErrorCodeTwoFactorInvalidCode    = "two_factor_invalid_code"
	ErrorCodeTwoFactorLocked         = "two_factor_locked"
	ErrorCodeTwoFactorSetupRequired  = "two_factor_setup_required"
	ErrorCodeTwoFactorAlreadyEnabled = "two_factor_already_enabled"
	ErrorCodeWebAuthnFailed          = "webauthn_failed"
	ErrorCodeConcurrentModification  = "concurrent_modification"
	ErrorCodeCredentialNotFound      = "credential_not_found"
	ErrorCodeEmailTaken              = "email_taken"
	ErrorCodeWeakPassword            = "weak_password"
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInsufficientRole        = "insufficient_role"
	ErrorCodeRateLimited             = "rate_limited"
	ErrorCodeNotFound                = "not_found"
	ErrorCodeServerError             = "server_error"
)

// ============================================================================
// APIError
// ============================================================================

// APIError is the error body every endpoint returns. The server writes it
// with WriteError; the client parses failed responses back into it.
type APIError struct {
	// StatusCode is the HTTP status code for this error
	StatusCode int `json:"-"`

	// Code is the stable, machine readable error code
	Code string `json:"error"`

	// Description is the localized, human readable text
	Description string `json:"error_description"`

	// Args are substituted into the translated message.
	Args []any `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Is matches another *APIError by code, so errors.Is(err, authsdk.ErrInvalidToken)
// works on parsed client errors.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	return ok && t.Code == e.Code
}

// Localize renders the description through t. A nil translator keeps the
// existing description.
func (e *APIError) Localize(t i18nx.Translator) ErrorResponse {
	desc := e.Description
	if t != nil {
		desc = t(e.Code, e.Args...)
	}
	return ErrorResponse{Error: e.Code, ErrorDescription: desc}
}

// WriteError writes the error with its description in the caller's language.
func (e *APIError) WriteError(w http.ResponseWriter, t i18nx.Translator) {
	httpx.WriteJSON(w, e.StatusCode, e.Localize(t))
}

// NewAPIError creates an APIError with the given status and code.
func NewAPIError(statusCode int, code string, args ...any) *APIError {
	return &APIError{StatusCode: statusCode, Code: code, Args: args}
}

// ============================================================================
// Predefined Errors
// ============================================================================

var (
	ErrInvalidCredentials      = NewAPIError(http.StatusUnauthorized, ErrorCodeInvalidCredentials)
	ErrInvalidToken            = NewAPIError(http.StatusUnauthorized, ErrorCodeInvalidToken)
	ErrSessionExpired          = NewAPIError(http.StatusUnauthorized, ErrorCodeSessionExpired)
	ErrSessionRevoked          = NewAPIError(http.StatusUnauthorized, ErrorCodeSessionRevoked)
	ErrSessionNotFound         = NewAPIError(http.StatusNotFound, ErrorCodeSessionNotFound)
	ErrCannotRevokeCurrent     = NewAPIError(http.StatusBadRequest, ErrorCodeCannotRevokeCurrent)
	ErrTwoFactorInvalidCode    = NewAPIError(http.StatusUnauthorized, ErrorCodeTwoFactorInvalidCode)
	ErrTwoFactorLocked         = NewAPIError(http.StatusLocked, ErrorCodeTwoFactorLocked)
	ErrTwoFactorSetupRequired  = NewAPIError(http.StatusBadRequest, ErrorCodeTwoFactorSetupRequired)
	ErrTwoFactorAlreadyEnabled = NewAPIError(http.StatusConflict, ErrorCodeTwoFactorAlreadyEnabled)
	ErrWebAuthnFailed          = NewAPIError(http.StatusUnauthorized, ErrorCodeWebAuthnFailed)
	ErrConcurrentModification  = NewAPIError(http.StatusConflict, ErrorCodeConcurrentModification)
	ErrCredentialNotFound      = NewAPIError(http.StatusNotFound, ErrorCodeCredentialNotFound)
	ErrEmailTaken              = NewAPIError(http.StatusConflict, ErrorCodeEmailTaken)
	ErrInvalidRequest          = NewAPIError(http.StatusBadRequest, ErrorCodeInvalidRequest)
	ErrInsufficientRole        = NewAPIError(http.StatusForbidden, ErrorCodeInsufficientRole)
	ErrRateLimited             = NewAPIError(http.StatusTooManyRequests, ErrorCodeRateLimited)
	ErrNotFound                = NewAPIError(http.StatusNotFound, ErrorCodeNotFound)
	ErrServerError             = NewAPIError(http.StatusInternalServerError, ErrorCodeServerError)
)

// ============================================================================
// Two-factor Challenge
// ============================================================================

// TwoFactorRequiredError is returned by Login when the account has a second
// factor enabled. No tokens were issued; finish with VerifyTwoFactor or the
// WebAuthn login calls using ChallengeToken.
type TwoFactorRequiredError struct {
	ChallengeToken  string
	Methods         []string
	PreferredMethod string
	ExpiresAt       time.Time
}

// Error implements the error interface.
func (e *TwoFactorRequiredError) Error() string {
	return fmt.Sprintf("two factor required: methods=%v", e.Methods)
}

// WriteError writes the challenge as a 401 two_factor_required response.
func (e *TwoFactorRequiredError) WriteError(w http.ResponseWriter, t i18nx.Translator) {
	body := NewAPIError(http.StatusUnauthorized, ErrorCodeTwoFactorRequired).Localize(t)
	httpx.WriteJSON(w, http.StatusUnauthorized, TwoFactorChallengeResponse{
		Error:            body.Error,
		ErrorDescription: body.ErrorDescription,
		ChallengeToken:   e.ChallengeToken,
		Methods:          e.Methods,
		PreferredMethod:  e.PreferredMethod,
		ExpiresAt:        e.ExpiresAt,
	})
}

// ============================================================================
// Error Parsing Helpers
// ============================================================================

// parseErrorResponse turns a non-2xx response into *TwoFactorRequiredError
// or *APIError. It returns nil for 2xx responses.
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var challenge TwoFactorChallengeResponse
	if err := json.Unmarshal(body, &challenge); err == nil &&
		challenge.Error == ErrorCodeTwoFactorRequired && challenge.ChallengeToken != "" {
		return &TwoFactorRequiredError{
			ChallengeToken:  challenge.ChallengeToken,
			Methods:         challenge.Methods,
			PreferredMethod: challenge.PreferredMethod,
			ExpiresAt:       challenge.ExpiresAt,
		}
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return &APIError{
			StatusCode:  resp.StatusCode,
			Code:        errResp.Error,
			Description: errResp.ErrorDescription,
		}
	}

	return &APIError{
		StatusCode:  resp.StatusCode,
		Code:        ErrorCodeServerError,
		Description: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
	}
}
