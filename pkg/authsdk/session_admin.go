package authsdk

import (
	"context"
	"net/http"
	"net/url"
)

// RevokeUserSessions ends every session of another user.
// Requires: admin role
func (s *Session) RevokeUserSessions(ctx context.Context, userID string) (int64, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/admin/users/"+url.PathEscape(userID)+"/revoke-sessions", nil)
	if err != nil {
		return 0, err
	}

	var out RevokeSessionsResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return 0, err
	}
	return out.Revoked, nil
}

// ListKeys returns all signing keys with their status.
// Requires: admin role
func (s *Session) ListKeys(ctx context.Context) ([]SigningKeyInfo, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/v1/admin/keys", nil)
	if err != nil {
		return nil, err
	}

	var out ListSigningKeysResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Keys, nil
}

// RotateKey generates a new signing key.
// Requires: admin role
func (s *Session) RotateKey(ctx context.Context, req RotateKeyRequest) (*RotateKeyResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/admin/keys/rotate", req)
	if err != nil {
		return nil, err
	}

	var out RotateKeyResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// RetireKey stops a key from signing. It still verifies until it expires.
// Requires: admin role
func (s *Session) RetireKey(ctx context.Context, kid string) error {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/admin/keys/"+url.PathEscape(kid)+"/retire", nil)
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusNoContent)
}
