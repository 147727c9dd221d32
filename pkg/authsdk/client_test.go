package authsdk

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/tabauth/pkg/i18nx"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestLogin(t *testing.T) {
	t.Parallel()

	expires := time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch req.Email {
		case "plain@example.com":
			writeJSON(w, http.StatusOK, TokenResponse{AccessToken: "at", RefreshToken: "rt", TokenType: "Bearer", ExpiresIn: 900, SessionID: "sid"})
		case "tfa@example.com":
			(&TwoFactorRequiredError{
				ChallengeToken:  "challenge",
				Methods:         []string{"app", "email"},
				PreferredMethod: "app",
				ExpiresAt:       expires,
			}).WriteError(w, i18nx.New(language.English))
		default:
			ErrInvalidCredentials.WriteError(w, i18nx.New(i18nx.ResolveTag(r)))
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := NewSDKClient(srv.URL + "/")

	t.Run("tokens", func(t *testing.T) {
		tok, err := client.Login(t.Context(), LoginRequest{Email: "plain@example.com", Password: "pw"})
		require.NoError(t, err)
		require.Equal(t, "at", tok.AccessToken)
		require.Equal(t, "sid", tok.SessionID)
	})

	t.Run("two factor required", func(t *testing.T) {
		_, err := client.Login(t.Context(), LoginRequest{Email: "tfa@example.com", Password: "pw"})
		var tfa *TwoFactorRequiredError
		require.ErrorAs(t, err, &tfa)
		require.Equal(t, "challenge", tfa.ChallengeToken)
		require.Equal(t, []string{"app", "email"}, tfa.Methods)
		require.Equal(t, "app", tfa.PreferredMethod)
		require.True(t, expires.Equal(tfa.ExpiresAt))
	})

	t.Run("localized error", func(t *testing.T) {
		fr := NewSDKClient(srv.URL)
		fr.Language = "fr-FR"

		_, err := fr.Login(t.Context(), LoginRequest{Email: "nobody@example.com", Password: "pw"})
		require.ErrorIs(t, err, ErrInvalidCredentials)

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
		require.Equal(t, "Adresse e-mail ou mot de passe invalide.", apiErr.Description)
	})
}

func TestSessionRefreshesExpiredToken(t *testing.T) {
	t.Parallel()

	var refreshes atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		var req RefreshRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.RefreshToken != "rt-1" || req.SessionID != "sid" {
			ErrSessionRevoked.WriteError(w, nil)
			return
		}
		refreshes.Add(1)
		writeJSON(w, http.StatusOK, TokenResponse{AccessToken: "at-2", RefreshToken: "rt-2", ExpiresIn: 900, SessionID: "sid"})
	})
	mux.HandleFunc("GET /v1/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-2" || r.Header.Get(SessionIDHeader) != "sid" {
			ErrInvalidToken.WriteError(w, nil)
			return
		}
		writeJSON(w, http.StatusOK, UserResponse{ID: "u1", Email: "alice@example.com", Role: "user"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := NewSDKClient(srv.URL)
	// ExpiresIn of zero is already past the refresh skew.
	sess := client.NewSessionFromTokens(&TokenResponse{AccessToken: "at-1", RefreshToken: "rt-1", ExpiresIn: 0, SessionID: "sid"})

	me, err := sess.Me(t.Context())
	require.NoError(t, err)
	require.Equal(t, "u1", me.ID)
	require.Equal(t, "rt-2", sess.RefreshToken())
	require.EqualValues(t, 1, refreshes.Load())

	_, err = sess.Me(t.Context())
	require.NoError(t, err)
	require.EqualValues(t, 1, refreshes.Load())
}

func TestParseErrorResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
	}{
		{"api error", http.StatusConflict, `{"error":"concurrent_modification","error_description":"retry"}`, ErrorCodeConcurrentModification},
		{"not json", http.StatusBadGateway, `<html>`, ErrorCodeServerError},
		{"empty code", http.StatusBadRequest, `{}`, ErrorCodeServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := parseErrorResponse(&http.Response{StatusCode: tt.status}, []byte(tt.body))
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			require.Equal(t, tt.wantCode, apiErr.Code)
			require.Equal(t, tt.status, apiErr.StatusCode)
		})
	}

	require.NoError(t, parseErrorResponse(&http.Response{StatusCode: http.StatusNoContent}, nil))
}

func TestAPIErrorWriteError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	NewAPIError(http.StatusBadRequest, ErrorCodeWeakPassword, 8, 128).WriteError(rec, i18nx.New(language.English))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, ErrorCodeWeakPassword, body.Error)
	require.Equal(t, "The password must be between 8 and 128 characters.", body.ErrorDescription)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
