package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/tabauth/internal/auth/domain"
	"github.com/aussiebroadwan/tabauth/internal/auth/store"
	"github.com/aussiebroadwan/tabauth/pkg/idx"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations())
	return s
}

func seedUser(t *testing.T, s *Store, email string) domain.User {
	t.Helper()

	u := domain.User{
		ID:           idx.NewAt(testNow).String(),
		Email:        email,
		PasswordHash: "$argon2id$stub",
		Role:         domain.RoleUser,
		Locale:       "en",
		CreatedAt:    testNow,
		UpdatedAt:    testNow,
	}
	ctx := context.Background()
	require.NoError(t, s.Users().CreateUser(ctx, u))
	require.NoError(t, s.TwoFactor().EnsureTwoFactor(ctx, u.ID))
	return u
}

func seedSession(t *testing.T, s *Store, userID string, expiresAt time.Time) domain.Session {
	t.Helper()

	sess := domain.Session{
		ID:                 uuid.NewString(),
		UserID:             userID,
		HashedRefreshToken: "salt.hash",
		Device:             domain.DeviceInfo{IP: "10.0.0.1", Browser: "Firefox"},
		CreatedAt:          testNow,
		LastActiveAt:       testNow,
		ExpiresAt:          expiresAt,
	}
	require.NoError(t, s.Sessions().CreateSession(context.Background(), sess))
	return sess
}

func TestUsers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("create and read back", func(t *testing.T) {
		s := newTestStore(t)
		u := seedUser(t, s, "alice@example.com")

		got, err := s.Users().GetUserByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		require.Equal(t, u.ID, got.ID)
		require.Equal(t, testNow, got.CreatedAt)
		require.Nil(t, got.EmailVerifiedAt)
	})

	t.Run("duplicate email", func(t *testing.T) {
		s := newTestStore(t)
		u := seedUser(t, s, "alice@example.com")
		u.ID = idx.New().String()
		require.ErrorIs(t, s.Users().CreateUser(ctx, u), store.ErrAlreadyExists)
	})

	t.Run("missing user", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.Users().GetUserByID(ctx, "nope")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("password change bumps token version", func(t *testing.T) {
		s := newTestStore(t)
		u := seedUser(t, s, "alice@example.com")

		v, err := s.Users().UpdatePasswordHash(ctx, u.ID, "$argon2id$new", testNow)
		require.NoError(t, err)
		require.EqualValues(t, 1, v)

		v, err = s.Users().IncrementTokenVersion(ctx, u.ID, testNow)
		require.NoError(t, err)
		require.EqualValues(t, 2, v)

		got, err := s.Users().GetTokenVersion(ctx, u.ID)
		require.NoError(t, err)
		require.EqualValues(t, 2, got)
	})

	t.Run("mark verified keeps first timestamp", func(t *testing.T) {
		s := newTestStore(t)
		u := seedUser(t, s, "alice@example.com")

		require.NoError(t, s.Users().MarkEmailVerified(ctx, u.ID, testNow))
		require.NoError(t, s.Users().MarkEmailVerified(ctx, u.ID, testNow.Add(time.Hour)))

		got, err := s.Users().GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		require.NotNil(t, got.EmailVerifiedAt)
		require.Equal(t, testNow, *got.EmailVerifiedAt)
	})

	t.Run("delete cascades", func(t *testing.T) {
		s := newTestStore(t)
		u := seedUser(t, s, "alice@example.com")
		sess := seedSession(t, s, u.ID, testNow.Add(time.Hour))
		require.NoError(t, s.BackupCodes().ReplaceBackupCodes(ctx, u.ID, []domain.BackupCode{{Hash: "h1"}}))

		require.NoError(t, s.Users().DeleteUser(ctx, u.ID))

		_, err := s.Sessions().GetSession(ctx, sess.ID)
		require.ErrorIs(t, err, store.ErrNotFound)
		codes, err := s.BackupCodes().ListBackupCodes(ctx, u.ID)
		require.NoError(t, err)
		require.Empty(t, codes)
		_, err = s.TwoFactor().GetTwoFactor(ctx, u.ID)
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestSessions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("rotate is guarded on version", func(t *testing.T) {
		s := newTestStore(t)
		u := seedUser(t, s, "alice@example.com")
		sess := seedSession(t, s, u.ID, testNow.Add(time.Hour))

		next := sess
		next.HashedRefreshToken = "salt.next"
		next.LastActiveAt = testNow.Add(time.Minute)
		require.NoError(t, s.Sessions().RotateSession(ctx, next, 0))

		got, err := s.Sessions().GetSession(ctx, sess.ID)
		require.NoError(t, err)
		require.EqualValues(t, 1, got.RefreshTokenVersion)
		require.Equal(t, "salt.next", got.HashedRefreshToken)

		// A second rotation from the stale version loses.
		require.ErrorIs(t, s.Sessions().RotateSession(ctx, next, 0), store.ErrConflict)
	})

	t.Run("list skips expired and orders by expiry", func(t *testing.T) {
		s := newTestStore(t)
		u := seedUser(t, s, "alice@example.com")
		late := seedSession(t, s, u.ID, testNow.Add(3*time.Hour))
		early := seedSession(t, s, u.ID, testNow.Add(time.Hour))
		seedSession(t, s, u.ID, testNow.Add(-time.Hour))

		list, err := s.Sessions().ListUserSessions(ctx, u.ID, testNow)
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.Equal(t, early.ID, list[0].ID)
		require.Equal(t, late.ID, list[1].ID)
	})

	t.Run("delete is scoped to owner", func(t *testing.T) {
		s := newTestStore(t)
		alice := seedUser(t, s, "alice@example.com")
		bob := seedUser(t, s, "bob@example.com")
		sess := seedSession(t, s, alice.ID, testNow.Add(time.Hour))

		require.ErrorIs(t, s.Sessions().DeleteUserSession(ctx, bob.ID, sess.ID), store.ErrNotFound)
		require.NoError(t, s.Sessions().DeleteUserSession(ctx, alice.ID, sess.ID))
	})

	t.Run("delete others keeps current", func(t *testing.T) {
		s := newTestStore(t)
		u := seedUser(t, s, "alice@example.com")
		keep := seedSession(t, s, u.ID, testNow.Add(time.Hour))
		seedSession(t, s, u.ID, testNow.Add(time.Hour))
		seedSession(t, s, u.ID, testNow.Add(time.Hour))

		n, err := s.Sessions().DeleteUserSessions(ctx, u.ID, keep.ID)
		require.NoError(t, err)
		require.EqualValues(t, 2, n)

		_, err = s.Sessions().GetSession(ctx, keep.ID)
		require.NoError(t, err)
	})

	t.Run("expired sweep", func(t *testing.T) {
		s := newTestStore(t)
		u := seedUser(t, s, "alice@example.com")
		seedSession(t, s, u.ID, testNow)
		seedSession(t, s, u.ID, testNow.Add(time.Hour))

		n, err := s.Sessions().DeleteExpiredSessions(ctx, testNow)
		require.NoError(t, err)
		require.EqualValues(t, 1, n)
	})
}

func TestTwoFactor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("enable and disable are guarded", func(t *testing.T) {
		s := newTestStore(t)
		u := seedUser(t, s, "alice@example.com")
		tf := s.TwoFactor()

		require.NoError(t, tf.SetAppSecret(ctx, u.ID, "JBSWY3DPEHPK3PXP"))
		require.NoError(t, tf.EnableMethod(ctx, u.ID, domain.MethodApp, domain.MethodApp, 0))
		require.ErrorIs(t, tf.EnableMethod(ctx, u.ID, domain.MethodApp, domain.MethodApp, 1), store.ErrConflict)
		require.ErrorIs(t, tf.SetAppSecret(ctx, u.ID, "OTHER"), store.ErrConflict)

		st, err := tf.GetTwoFactor(ctx, u.ID)
		require.NoError(t, err)
		require.True(t, st.App.Enabled)
		require.Equal(t, domain.MethodApp, st.PreferredMethod)
		require.EqualValues(t, 1, st.Version)

		require.NoError(t, tf.DisableMethod(ctx, u.ID, domain.MethodApp, domain.MethodNone, 1))
		require.ErrorIs(t, tf.DisableMethod(ctx, u.ID, domain.MethodApp, domain.MethodNone, 2), store.ErrConflict)

		st, err = tf.GetTwoFactor(ctx, u.ID)
		require.NoError(t, err)
		require.False(t, st.App.Enabled)
		require.Empty(t, st.App.Secret)
		require.Equal(t, domain.MethodNone, st.PreferredMethod)
		require.EqualValues(t, 2, st.Version)
	})

	t.Run("transitions need the current version", func(t *testing.T) {
		s := newTestStore(t)
		u := seedUser(t, s, "alice@example.com")
		tf := s.TwoFactor()

		require.NoError(t, tf.EnableMethod(ctx, u.ID, domain.MethodApp, domain.MethodApp, 0))
		require.ErrorIs(t, tf.EnableMethod(ctx, u.ID, domain.MethodEmail, domain.MethodEmail, 0), store.ErrConflict)
		require.NoError(t, tf.EnableMethod(ctx, u.ID, domain.MethodEmail, domain.MethodApp, 1))

		require.NoError(t, tf.DisableMethod(ctx, u.ID, domain.MethodApp, domain.MethodEmail, 2))
		require.ErrorIs(t, tf.DisableMethod(ctx, u.ID, domain.MethodEmail, domain.MethodApp, 2), store.ErrConflict)

		st, err := tf.GetTwoFactor(ctx, u.ID)
		require.NoError(t, err)
		require.True(t, st.Email.Enabled)
		require.Equal(t, domain.MethodEmail, st.PreferredMethod)
	})

	t.Run("preferred must be enabled", func(t *testing.T) {
		s := newTestStore(t)
		u := seedUser(t, s, "alice@example.com")
		tf := s.TwoFactor()

		require.ErrorIs(t, tf.SetPreferredMethod(ctx, u.ID, domain.MethodEmail, 0), store.ErrConflict)
		require.NoError(t, tf.EnableMethod(ctx, u.ID, domain.MethodEmail, domain.MethodEmail, 0))
		require.ErrorIs(t, tf.SetPreferredMethod(ctx, u.ID, domain.MethodEmail, 0), store.ErrConflict)
		require.NoError(t, tf.SetPreferredMethod(ctx, u.ID, domain.MethodEmail, 1))
	})

	t.Run("email code is consumed once", func(t *testing.T) {
		s := newTestStore(t)
		u := seedUser(t, s, "alice@example.com")
		tf := s.TwoFactor()

		require.NoError(t, tf.SetEmailOTP(ctx, u.ID, "hash-1", testNow.Add(10*time.Minute)))
		require.ErrorIs(t, tf.ConsumeEmailOTP(ctx, u.ID, "hash-other"), store.ErrNotFound)
		require.NoError(t, tf.ConsumeEmailOTP(ctx, u.ID, "hash-1"))
		require.ErrorIs(t, tf.ConsumeEmailOTP(ctx, u.ID, "hash-1"), store.ErrNotFound)

		st, err := tf.GetTwoFactor(ctx, u.ID)
		require.NoError(t, err)
		require.Empty(t, st.Email.HashedOTP)
		require.Nil(t, st.Email.OTPExpiry)
	})

	t.Run("attempts lock at the threshold", func(t *testing.T) {
		s := newTestStore(t)
		u := seedUser(t, s, "alice@example.com")
		lockUntil := testNow.Add(15 * time.Minute)

		for i := 1; i < 5; i++ {
			n, lock, err := s.TwoFactor().IncrementAttempts(ctx, u.ID, 5, lockUntil)
			require.NoError(t, err)
			require.Equal(t, i, n)
			require.Nil(t, lock)
		}

		n, lock, err := s.TwoFactor().IncrementAttempts(ctx, u.ID, 5, lockUntil)
		require.NoError(t, err)
		require.Equal(t, 5, n)
		require.NotNil(t, lock)
		require.Equal(t, lockUntil, *lock)

		require.NoError(t, s.TwoFactor().ResetAttempts(ctx, u.ID, &testNow))
		st, err := s.TwoFactor().GetTwoFactor(ctx, u.ID)
		require.NoError(t, err)
		require.Zero(t, st.Attempts)
		require.Nil(t, st.LockUntil)
		require.Equal(t, testNow, *st.LastVerifiedAt)
	})

	t.Run("webauthn challenge consumed once", func(t *testing.T) {
		s := newTestStore(t)
		u := seedUser(t, s, "alice@example.com")
		tf := s.TwoFactor()

		require.NoError(t, tf.SetWebAuthnChallenge(ctx, u.ID, "chal-1", []byte(`{}`), testNow.Add(5*time.Minute)))
		require.NoError(t, tf.SetWebAuthnChallenge(ctx, u.ID, "chal-2", []byte(`{}`), testNow.Add(5*time.Minute)))

		require.ErrorIs(t, tf.ConsumeWebAuthnChallenge(ctx, u.ID, "chal-1"), store.ErrConflict)
		require.NoError(t, tf.ConsumeWebAuthnChallenge(ctx, u.ID, "chal-2"))
		require.ErrorIs(t, tf.ConsumeWebAuthnChallenge(ctx, u.ID, "chal-2"), store.ErrConflict)
	})
}

func TestBackupCodes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestStore(t)
	u := seedUser(t, s, "alice@example.com")
	codes := s.BackupCodes()

	require.NoError(t, codes.ReplaceBackupCodes(ctx, u.ID, []domain.BackupCode{{Hash: "a"}, {Hash: "b"}}))

	require.NoError(t, codes.ConsumeBackupCode(ctx, u.ID, "a", testNow))
	require.ErrorIs(t, codes.ConsumeBackupCode(ctx, u.ID, "a", testNow), store.ErrNotFound)
	require.ErrorIs(t, codes.ConsumeBackupCode(ctx, u.ID, "zzz", testNow), store.ErrNotFound)

	list, err := codes.ListBackupCodes(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.True(t, list[0].Used())
	require.False(t, list[1].Used())
}

func TestWebAuthnCredentials(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestStore(t)
	u := seedUser(t, s, "alice@example.com")
	creds := s.WebAuthnCredentials()

	c := domain.WebAuthnCredential{
		ID:               "cred-1",
		UserID:           u.ID,
		PublicKey:        []byte{1, 2, 3},
		SignatureCounter: 4,
		Transports:       []string{"usb", "nfc"},
		DeviceName:       "YubiKey",
		BackupEligible:   true,
		CreatedAt:        testNow,
	}
	require.NoError(t, creds.CreateCredential(ctx, c))
	require.ErrorIs(t, creds.CreateCredential(ctx, c), store.ErrAlreadyExists)

	got, err := creds.GetCredential(ctx, u.ID, "cred-1")
	require.NoError(t, err)
	require.Equal(t, []string{"usb", "nfc"}, got.Transports)
	require.EqualValues(t, 4, got.SignatureCounter)
	require.True(t, got.BackupEligible)

	require.NoError(t, creds.UpdateCredentialUse(ctx, u.ID, "cred-1", 4, 5, true, testNow))
	require.ErrorIs(t, creds.UpdateCredentialUse(ctx, u.ID, "cred-1", 4, 6, true, testNow), store.ErrConflict)

	st, err := s.TwoFactor().GetTwoFactor(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, st.WebAuthn.Credentials, 1)
	require.EqualValues(t, 5, st.WebAuthn.Credentials[0].SignatureCounter)

	require.NoError(t, creds.DeleteCredential(ctx, u.ID, "cred-1"))
	require.ErrorIs(t, creds.DeleteCredential(ctx, u.ID, "cred-1"), store.ErrNotFound)
}

func TestLoginChallengesAndVerificationTokens(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestStore(t)
	u := seedUser(t, s, "alice@example.com")

	ch := domain.LoginChallenge{TokenHash: "fp", UserID: u.ID, RememberMe: true, ExpiresAt: testNow.Add(10 * time.Minute), CreatedAt: testNow}
	require.NoError(t, s.LoginChallenges().CreateLoginChallenge(ctx, ch))

	got, err := s.LoginChallenges().GetLoginChallenge(ctx, "fp")
	require.NoError(t, err)
	require.True(t, got.RememberMe)

	require.NoError(t, s.LoginChallenges().DeleteLoginChallenge(ctx, "fp"))
	require.ErrorIs(t, s.LoginChallenges().DeleteLoginChallenge(ctx, "fp"), store.ErrNotFound)

	vt := s.VerificationTokens()
	require.NoError(t, vt.PutVerificationToken(ctx, domain.VerificationToken{
		TokenHash: "old", UserID: u.ID, Purpose: domain.PurposePasswordReset, ExpiresAt: testNow.Add(time.Hour), CreatedAt: testNow,
	}))
	require.NoError(t, vt.PutVerificationToken(ctx, domain.VerificationToken{
		TokenHash: "new", UserID: u.ID, Purpose: domain.PurposePasswordReset, ExpiresAt: testNow.Add(24 * time.Hour), CreatedAt: testNow,
	}))

	_, err = vt.ConsumeVerificationToken(ctx, "old", domain.PurposePasswordReset)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = vt.ConsumeVerificationToken(ctx, "new", domain.PurposeEmailVerify)
	require.ErrorIs(t, err, store.ErrNotFound)

	tok, err := vt.ConsumeVerificationToken(ctx, "new", domain.PurposePasswordReset)
	require.NoError(t, err)
	require.Equal(t, u.ID, tok.UserID)
	require.Equal(t, testNow.Add(24*time.Hour), tok.ExpiresAt)

	_, err = vt.ConsumeVerificationToken(ctx, "new", domain.PurposePasswordReset)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestWithTxRollsBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestStore(t)
	u := seedUser(t, s, "alice@example.com")

	err := s.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.Users().IncrementTokenVersion(ctx, u.ID, testNow); err != nil {
			return err
		}
		return store.ErrConflict
	})
	require.ErrorIs(t, err, store.ErrConflict)

	v, err := s.Users().GetTokenVersion(ctx, u.ID)
	require.NoError(t, err)
	require.Zero(t, v)
}

func TestSigningKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newTestStore(t)
	keys := s.SigningKeys()

	for i, kid := range []string{"k1", "k2"} {
		created := testNow.Add(time.Duration(i) * time.Minute)
		require.NoError(t, keys.CreateSigningKey(ctx, domain.SigningKey{
			ID: idx.NewAt(created).String(), Kid: kid, Algorithm: "EdDSA",
			PrivateKeyEncrypted: []byte("sealed"), CreatedAt: created, ExpiresAt: testNow.Add(time.Hour),
		}))
	}

	list, err := keys.ListSigningKeys(ctx, testNow)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "k2", list[0].Kid)

	require.NoError(t, keys.RetireSigningKey(ctx, "k1", testNow))
	require.ErrorIs(t, keys.RetireSigningKey(ctx, "k1", testNow), store.ErrNotFound)

	n, err := keys.DeleteExpiredSigningKeys(ctx, testNow.Add(time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}
