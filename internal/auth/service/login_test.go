package service

import (
	"context"
	"testing"

	"github.com/aussiebroadwan/tabauth/internal/auth/domain"
	"github.com/stretchr/testify/require"
)

func TestLogin_WithoutTwoFactor(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.register(t, "plain@example.com")

	_, err := env.login.Login(ctx, u.Email, "wrong password", testDevice, false)
	require.ErrorIs(t, err, ErrInvalidCredentials)

	pair, err := env.login.Login(ctx, u.Email, testPassword, testDevice, true)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, 1, env.mail.loginCount(u.ID))

	claims, err := env.tokens.VerifyAccessToken(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, u.ID, claims.Subject)
	require.Equal(t, pair.SessionID, claims.SID)
}

func TestLogin_AppTwoFactor(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.register(t, "mfa@example.com")
	secret, _ := env.enableApp(t, u)

	_, err := env.login.Login(ctx, u.Email, testPassword, testDevice, false)
	var required *TwoFactorRequiredError
	require.ErrorAs(t, err, &required)
	require.NotEmpty(t, required.ChallengeToken())
	require.Equal(t, []domain.Method{domain.MethodApp}, required.Challenge.Methods)
	require.Equal(t, domain.MethodApp, required.Challenge.PreferredMethod)
	require.True(t, env.clock.Now().Add(domain.LoginChallengeTTL).Equal(required.ExpiresAt()))

	views, err := env.sessions.ListActiveSessions(ctx, u.ID, "")
	require.NoError(t, err)
	require.Empty(t, views, "no session before the second factor")

	_, err = env.login.VerifyTwoFactor(ctx, required.ChallengeToken(), domain.MethodApp, env.wrongTOTP(t, secret), testDevice)
	require.ErrorIs(t, err, ErrTwoFactorInvalidCode)

	_, err = env.login.VerifyTwoFactor(ctx, required.ChallengeToken(), domain.MethodWebAuthn, "", testDevice)
	require.ErrorIs(t, err, ErrInvalidRequest)

	pair, err := env.login.VerifyTwoFactor(ctx, required.ChallengeToken(), domain.MethodApp, env.totp(t, secret), testDevice)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	views, err = env.sessions.ListActiveSessions(ctx, u.ID, pair.SessionID)
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.True(t, views[0].IsCurrent)
	require.Equal(t, 1, env.mail.loginCount(u.ID))

	t.Run("challenge is single use", func(t *testing.T) {
		_, err := env.login.VerifyTwoFactor(ctx, required.ChallengeToken(), domain.MethodApp, env.totp(t, secret), testDevice)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("challenge expires", func(t *testing.T) {
		_, err := env.login.Login(ctx, u.Email, testPassword, testDevice, false)
		var again *TwoFactorRequiredError
		require.ErrorAs(t, err, &again)

		env.clock.Advance(domain.LoginChallengeTTL)
		_, err = env.login.VerifyTwoFactor(ctx, again.ChallengeToken(), domain.MethodApp, env.totp(t, secret), testDevice)
		require.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestLogin_EmailTwoFactor(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.register(t, "emailmfa@example.com")
	env.enableEmail(t, u)

	_, err := env.login.Login(ctx, u.Email, testPassword, testDevice, false)
	var required *TwoFactorRequiredError
	require.ErrorAs(t, err, &required)
	require.Equal(t, domain.MethodEmail, required.Challenge.PreferredMethod)

	sent := env.mail.lastCode(u.ID)
	require.Equal(t, CodeContextLogin, sent.context)

	// Asking again replaces the first code.
	require.NoError(t, env.login.SendLoginCode(ctx, required.ChallengeToken()))
	resent := env.mail.lastCode(u.ID)

	_, err = env.login.VerifyTwoFactor(ctx, required.ChallengeToken(), domain.MethodEmail, resent.code, testDevice)
	require.NoError(t, err)

	require.ErrorIs(t, env.login.SendLoginCode(ctx, "bogus"), ErrInvalidToken)
}

func TestLogin_BackupCode(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.register(t, "recovery@example.com")
	_, codes := env.enableApp(t, u)

	_, err := env.login.Login(ctx, u.Email, testPassword, testDevice, false)
	var required *TwoFactorRequiredError
	require.ErrorAs(t, err, &required)

	_, err = env.login.VerifyTwoFactor(ctx, required.ChallengeToken(), domain.MethodBackup, codes[0], testDevice)
	require.NoError(t, err)
	require.Equal(t, 7, env.state(t, u.ID).UnusedBackupCodes())
}

func TestLogin_WebAuthn(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.register(t, "key@example.com")
	env.registerCredential(t, u, "cred-1")

	t.Run("after password", func(t *testing.T) {
		_, err := env.login.Login(ctx, u.Email, testPassword, testDevice, true)
		var required *TwoFactorRequiredError
		require.ErrorAs(t, err, &required)
		require.Equal(t, domain.MethodWebAuthn, required.Challenge.PreferredMethod)

		target := WebAuthnLoginTarget{ChallengeToken: required.ChallengeToken()}
		env.prepareAssertion("cred-1", 2)
		_, err = env.login.BeginWebAuthnLogin(ctx, target)
		require.NoError(t, err)

		pair, err := env.login.FinishWebAuthnLogin(ctx, target, []byte(`{}`), testDevice)
		require.NoError(t, err)
		require.NotEmpty(t, pair.AccessToken)

		sess, err := env.store.Sessions().GetSession(ctx, pair.SessionID)
		require.NoError(t, err)
		require.True(t, sess.RememberMe)

		_, err = env.login.BeginWebAuthnLogin(ctx, target)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("passkey by email", func(t *testing.T) {
		target := WebAuthnLoginTarget{Email: "KEY@example.com"}
		env.prepareAssertion("cred-1", 3)
		_, err := env.login.BeginWebAuthnLogin(ctx, target)
		require.NoError(t, err)

		pair, err := env.login.FinishWebAuthnLogin(ctx, target, []byte(`{}`), testDevice)
		require.NoError(t, err)
		require.NotEmpty(t, pair.SessionID)
	})

	t.Run("unknown email", func(t *testing.T) {
		_, err := env.login.BeginWebAuthnLogin(ctx, WebAuthnLoginTarget{Email: "nobody@example.com"})
		require.ErrorIs(t, err, ErrWebAuthnFailed)

		_, err = env.login.BeginWebAuthnLogin(ctx, WebAuthnLoginTarget{})
		require.ErrorIs(t, err, ErrInvalidRequest)
	})
}

func TestLogin_PasskeyByEmailDoesNotCountFailures(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.register(t, "victim@example.com")
	secret, _ := env.enableApp(t, u)

	target := WebAuthnLoginTarget{Email: u.Email}
	for range MaxTwoFactorAttempts + 1 {
		_, err := env.login.FinishWebAuthnLogin(ctx, target, []byte(`{}`), testDevice)
		require.ErrorIs(t, err, ErrWebAuthnFailed)
	}
	st := env.state(t, u.ID)
	require.Zero(t, st.Attempts)
	require.Nil(t, st.LockUntil)

	_, err := env.login.Login(ctx, u.Email, testPassword, testDevice, false)
	var required *TwoFactorRequiredError
	require.ErrorAs(t, err, &required)
	pair, err := env.login.VerifyTwoFactor(ctx, required.ChallengeToken(), domain.MethodApp, env.totp(t, secret), testDevice)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
}

func TestLogin_PasskeyByEmailHidesLock(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.register(t, "locked@example.com")
	env.registerCredential(t, u, "cred-1")

	for range MaxTwoFactorAttempts {
		require.ErrorIs(t, env.twoFA.VerifyLogin(ctx, u.ID, domain.MethodBackup, "WRONG-CODE"), ErrTwoFactorInvalidCode)
	}

	byEmail := WebAuthnLoginTarget{Email: u.Email}
	_, err := env.login.BeginWebAuthnLogin(ctx, byEmail)
	require.ErrorIs(t, err, ErrWebAuthnFailed)
	require.NotErrorIs(t, err, ErrTwoFactorLocked)
	_, err = env.login.FinishWebAuthnLogin(ctx, byEmail, []byte(`{}`), testDevice)
	require.ErrorIs(t, err, ErrWebAuthnFailed)

	// After the password the lock is reported as such.
	_, err = env.login.Login(ctx, u.Email, testPassword, testDevice, false)
	var required *TwoFactorRequiredError
	require.ErrorAs(t, err, &required)
	_, err = env.login.BeginWebAuthnLogin(ctx, WebAuthnLoginTarget{ChallengeToken: required.ChallengeToken()})
	require.ErrorIs(t, err, ErrTwoFactorLocked)
}
