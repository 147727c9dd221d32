package authsdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
)

// TwoFactorStatus returns the user's second-factor summary.
func (s *Session) TwoFactorStatus(ctx context.Context) (*TwoFactorStatusResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/v1/2fa", nil)
	if err != nil {
		return nil, err
	}

	var status TwoFactorStatusResponse
	if err := decodeJSON(resp, &status, http.StatusOK); err != nil {
		return nil, err
	}
	return &status, nil
}

// SetPreferredMethod picks the method offered first at login.
func (s *Session) SetPreferredMethod(ctx context.Context, method string) error {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/2fa/preferred", PreferredMethodRequest{Method: method})
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusNoContent)
}

// RegenerateBackupCodes replaces every backup code.
func (s *Session) RegenerateBackupCodes(ctx context.Context, proof ProofRequest) ([]string, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/2fa/backup-codes", proof)
	if err != nil {
		return nil, err
	}

	var out BackupCodesResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Codes, nil
}

// ConfigureMethod starts setup of app or email.
func (s *Session) ConfigureMethod(ctx context.Context, method string) (*ConfigureMethodResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/2fa/"+url.PathEscape(method)+"/configure", nil)
	if err != nil {
		return nil, err
	}

	var out ConfigureMethodResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// EnableMethod turns a configured method on and returns any backup codes
// issued with it.
func (s *Session) EnableMethod(ctx context.Context, method, code string) ([]string, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/2fa/"+url.PathEscape(method)+"/enable", EnableMethodRequest{Code: code})
	if err != nil {
		return nil, err
	}

	var out BackupCodesResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Codes, nil
}

// SendDisableCode emails a code that can be used as proof to disable email.
func (s *Session) SendDisableCode(ctx context.Context) error {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/2fa/email/code", nil)
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusNoContent)
}

// DisableMethod turns a method off.
func (s *Session) DisableMethod(ctx context.Context, method string, proof ProofRequest) error {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/2fa/"+url.PathEscape(method)+"/disable", proof)
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusNoContent)
}

// WebAuthnRegisterOptions returns the creation options for
// navigator.credentials.create.
func (s *Session) WebAuthnRegisterOptions(ctx context.Context) (json.RawMessage, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/2fa/webauthn/register/options", nil)
	if err != nil {
		return nil, err
	}

	var options json.RawMessage
	if err := decodeJSON(resp, &options, http.StatusOK); err != nil {
		return nil, err
	}
	return options, nil
}

// WebAuthnRegisterVerify stores the new credential.
func (s *Session) WebAuthnRegisterVerify(ctx context.Context, req WebAuthnRegisterVerifyRequest) (*WebAuthnRegisterResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/2fa/webauthn/register/verify", req)
	if err != nil {
		return nil, err
	}

	var out WebAuthnRegisterResponse
	if err := decodeJSON(resp, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListWebAuthnCredentials lists the user's security keys.
func (s *Session) ListWebAuthnCredentials(ctx context.Context) ([]WebAuthnCredentialInfo, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/v1/2fa/webauthn/credentials", nil)
	if err != nil {
		return nil, err
	}

	var out ListWebAuthnCredentialsResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Credentials, nil
}

// DeleteWebAuthnCredential removes a security key. Removing the last one
// disables the method.
func (s *Session) DeleteWebAuthnCredential(ctx context.Context, id string) error {
	resp, err := s.doAuthRequest(ctx, http.MethodDelete, "/v1/2fa/webauthn/credentials/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusNoContent)
}
