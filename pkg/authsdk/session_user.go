package authsdk

import (
	"context"
	"net/http"
	"net/url"
)

// Me returns the signed in user.
func (s *Session) Me(ctx context.Context) (*UserResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/v1/me", nil)
	if err != nil {
		return nil, err
	}

	var user UserResponse
	if err := decodeJSON(resp, &user, http.StatusOK); err != nil {
		return nil, err
	}
	return &user, nil
}

// DeleteAccount deletes the user after confirming the password.
func (s *Session) DeleteAccount(ctx context.Context, password string) error {
	resp, err := s.doAuthRequest(ctx, http.MethodDelete, "/v1/me", DeleteAccountRequest{Password: password})
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusNoContent)
}

// ChangePassword sets a new password. Every session, this one included,
// is ended by the server.
func (s *Session) ChangePassword(ctx context.Context, current, next string) error {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/auth/password/change", ChangePasswordRequest{
		CurrentPassword: current,
		NewPassword:     next,
	})
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusNoContent)
}

// ResendEmailVerification emails a new verification token.
func (s *Session) ResendEmailVerification(ctx context.Context) error {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/auth/email/resend", nil)
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusNoContent)
}

// ListSessions returns the user's live sessions.
func (s *Session) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/v1/sessions", nil)
	if err != nil {
		return nil, err
	}

	var list ListSessionsResponse
	if err := decodeJSON(resp, &list, http.StatusOK); err != nil {
		return nil, err
	}
	return list.Sessions, nil
}

// RevokeSession ends another of the user's sessions.
func (s *Session) RevokeSession(ctx context.Context, id string) error {
	resp, err := s.doAuthRequest(ctx, http.MethodDelete, "/v1/sessions/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusNoContent)
}

// RevokeOtherSessions ends every session except this one.
func (s *Session) RevokeOtherSessions(ctx context.Context) (int64, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodDelete, "/v1/sessions", nil)
	if err != nil {
		return 0, err
	}

	var out RevokeSessionsResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return 0, err
	}
	return out.Revoked, nil
}
