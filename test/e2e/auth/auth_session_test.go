package auth_test

import (
	"net/http"
	"testing"

	"github.com/aussiebroadwan/tabauth/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// TestRegisterAndMe covers registration, duplicate detection and the
// profile endpoint.
func TestRegisterAndMe(t *testing.T) {
	svc := setupAuthContainer(t)
	ctx := t.Context()

	user, session := svc.registerAndLogin(t, "Alice@Example.com", userPassword)
	require.Equal(t, "alice@example.com", user.Email, "email should be normalized")
	require.Equal(t, "user", user.Role)

	_, err := svc.client.Register(ctx, authsdk.RegisterRequest{Email: "alice@example.com", Password: userPassword})
	assertAPIError(t, err, authsdk.ErrEmailTaken, "duplicate registration")

	_, err = svc.client.Register(ctx, authsdk.RegisterRequest{Email: "short@example.com", Password: "short"})
	assertAPIError(t, err, authsdk.NewAPIError(http.StatusBadRequest, authsdk.ErrorCodeWeakPassword), "weak password")

	me, err := session.Me(ctx)
	require.NoError(t, err)
	require.Equal(t, user.ID, me.ID)
	require.False(t, me.EmailVerified)

	// Verify the email using the token from the registration mail.
	mail := svc.lastMail(t, "mail: verify email", "alice@example.com")
	require.NoError(t, svc.client.VerifyEmail(ctx, mail.Token))

	me, err = session.Me(ctx)
	require.NoError(t, err)
	require.True(t, me.EmailVerified)
}

// TestLoginFailures verifies wrong passwords and unknown accounts look the
// same to the caller.
func TestLoginFailures(t *testing.T) {
	svc := setupAuthContainer(t)
	ctx := t.Context()
	svc.registerAndLogin(t, "bob@example.com", userPassword)

	_, err := svc.client.Login(ctx, authsdk.LoginRequest{Email: "bob@example.com", Password: "not the password"})
	assertAPIError(t, err, authsdk.ErrInvalidCredentials, "wrong password")

	_, err = svc.client.Login(ctx, authsdk.LoginRequest{Email: "nobody@example.com", Password: userPassword})
	assertAPIError(t, err, authsdk.ErrInvalidCredentials, "unknown account")
}

// TestRefreshRotation verifies refresh tokens rotate and a replayed token
// revokes the session.
func TestRefreshRotation(t *testing.T) {
	svc := setupAuthContainer(t)
	ctx := t.Context()
	svc.registerAndLogin(t, "carol@example.com", userPassword)

	first, err := svc.client.Login(ctx, authsdk.LoginRequest{Email: "carol@example.com", Password: userPassword})
	require.NoError(t, err)
	assertTokenResponse(t, first)

	second, err := svc.client.Refresh(ctx, first.SessionID, first.RefreshToken)
	require.NoError(t, err, "first refresh should succeed")
	assertTokenResponse(t, second)
	require.Equal(t, first.SessionID, second.SessionID, "refresh keeps the session")
	require.NotEqual(t, first.RefreshToken, second.RefreshToken, "refresh token should rotate")

	_, err = svc.client.Refresh(ctx, first.SessionID, first.RefreshToken)
	assertAPIError(t, err, authsdk.ErrSessionRevoked, "replayed refresh token")

	// The replay took the whole session down, including the fresh token.
	_, err = svc.client.Refresh(ctx, second.SessionID, second.RefreshToken)
	assertAPIError(t, err, authsdk.ErrSessionRevoked, "refresh after replay")

	_, err = svc.client.NewSessionFromTokens(second).Me(ctx)
	assertAPIError(t, err, authsdk.ErrSessionRevoked, "access token after replay")
}

// TestSessionManagement covers listing, revoking and logging out sessions.
func TestSessionManagement(t *testing.T) {
	svc := setupAuthContainer(t)
	ctx := t.Context()

	_, laptop := svc.registerAndLogin(t, "dave@example.com", userPassword)
	phone, err := svc.client.AuthenticateWithPassword(ctx, "dave@example.com", userPassword, true)
	require.NoError(t, err)
	tablet, err := svc.client.AuthenticateWithPassword(ctx, "dave@example.com", userPassword, false)
	require.NoError(t, err)

	sessions, err := laptop.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	current := 0
	for _, s := range sessions {
		if s.IsCurrent {
			current++
			require.Equal(t, laptop.SessionID(), s.ID)
		}
	}
	require.Equal(t, 1, current, "exactly one session is current")

	err = laptop.RevokeSession(ctx, laptop.SessionID())
	assertAPIError(t, err, authsdk.ErrCannotRevokeCurrent, "revoking the current session")

	require.NoError(t, laptop.RevokeSession(ctx, phone.SessionID()))
	_, err = phone.Me(ctx)
	assertAPIError(t, err, authsdk.ErrSessionRevoked, "revoked session")

	n, err := laptop.RevokeOtherSessions(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n, "only the tablet was left")
	_, err = tablet.Me(ctx)
	require.Error(t, err)

	require.NoError(t, laptop.Logout(ctx))
	_, err = laptop.Me(ctx)
	assertAPIError(t, err, authsdk.ErrSessionRevoked, "after logout")
}

// TestLogoutEverywhere verifies logout-all invalidates every access token.
func TestLogoutEverywhere(t *testing.T) {
	svc := setupAuthContainer(t)
	ctx := t.Context()

	_, a := svc.registerAndLogin(t, "erin@example.com", userPassword)
	b, err := svc.client.AuthenticateWithPassword(ctx, "erin@example.com", userPassword, false)
	require.NoError(t, err)

	require.NoError(t, a.LogoutAll(ctx))

	for _, s := range []*authsdk.Session{a, b} {
		_, err := s.Me(ctx)
		assertAPIError(t, err, authsdk.ErrSessionRevoked, "after logout-all")
	}

	// Signing in again works.
	c, err := svc.client.AuthenticateWithPassword(ctx, "erin@example.com", userPassword, false)
	require.NoError(t, err)
	_, err = c.Me(ctx)
	require.NoError(t, err)
}
