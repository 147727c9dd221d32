package auth_test

import (
	"testing"

	"github.com/aussiebroadwan/tabauth/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// TestRateLimitLogin verifies the login endpoint allows five attempts per
// minute for one address.
func TestRateLimitLogin(t *testing.T) {
	svc := setupAuthContainer(t, withDefaultRateLimits())
	ctx := t.Context()

	req := authsdk.LoginRequest{Email: "mallory@example.com", Password: "wrong password"}
	for i := range 5 {
		_, err := svc.client.Login(ctx, req)
		assertAPIError(t, err, authsdk.ErrInvalidCredentials, "attempt before the limit")
		require.NotErrorIs(t, err, authsdk.ErrRateLimited, "should not be rate limited yet (request %d)", i+1)
	}

	_, err := svc.client.Login(ctx, req)
	assertAPIError(t, err, authsdk.ErrRateLimited, "sixth attempt")

	// Another address from the same client has its own bucket.
	_, err = svc.client.Login(ctx, authsdk.LoginRequest{Email: "trent@example.com", Password: "wrong password"})
	assertAPIError(t, err, authsdk.ErrInvalidCredentials, "different email")
}

// TestRateLimitForgotPassword verifies the reset endpoint is strictly limited.
func TestRateLimitForgotPassword(t *testing.T) {
	svc := setupAuthContainer(t, withDefaultRateLimits())
	ctx := t.Context()

	for range 5 {
		require.NoError(t, svc.client.ForgotPassword(ctx, "mallory@example.com"))
	}
	err := svc.client.ForgotPassword(ctx, "mallory@example.com")
	assertAPIError(t, err, authsdk.ErrRateLimited, "sixth reset request")
}
