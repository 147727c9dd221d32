package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aussiebroadwan/tabauth/internal/auth/domain"
	"github.com/aussiebroadwan/tabauth/internal/auth/store"
)

type twoFactorRepo struct {
	db dbtx
}

// enabledColumn maps a method to its flag column. Only the three
// configurable methods have one.
func enabledColumn(m domain.Method) (string, error) {
	switch m {
	case domain.MethodEmail:
		return "email_enabled", nil
	case domain.MethodApp:
		return "app_enabled", nil
	case domain.MethodWebAuthn:
		return "webauthn_enabled", nil
	}
	return "", fmt.Errorf("sqlite: no enabled flag for method %q", m)
}

// wipeClause clears the secrets that belong to m.
func wipeClause(m domain.Method) string {
	switch m {
	case domain.MethodEmail:
		return `, email_otp_hash = NULL, email_otp_expiry = NULL`
	case domain.MethodApp:
		return `, app_secret = NULL`
	case domain.MethodWebAuthn:
		return `, webauthn_challenge = NULL, webauthn_challenge_expiry = NULL, webauthn_session_data = NULL`
	}
	return ""
}

func (r *twoFactorRepo) EnsureTwoFactor(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO two_factor (user_id) VALUES (?) ON CONFLICT (user_id) DO NOTHING`, userID)
	return err
}

func (r *twoFactorRepo) GetTwoFactor(ctx context.Context, userID string) (domain.TwoFactorState, error) {
	var (
		st                                           domain.TwoFactorState
		preferred                                    string
		lockUntil, lastVerified, otpExpiry, chExpiry sql.NullInt64
		otpHash, appSecret, challenge                sql.NullString
		sessionData                                  []byte
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, preferred_method, attempts, lock_until, last_verified_at,
		        email_enabled, email_otp_hash, email_otp_expiry,
		        app_enabled, app_secret,
		        webauthn_enabled, webauthn_challenge, webauthn_challenge_expiry, webauthn_session_data,
		        version
		 FROM two_factor WHERE user_id = ?`, userID,
	).Scan(
		&st.UserID, &preferred, &st.Attempts, &lockUntil, &lastVerified,
		&st.Email.Enabled, &otpHash, &otpExpiry,
		&st.App.Enabled, &appSecret,
		&st.WebAuthn.Enabled, &challenge, &chExpiry, &sessionData,
		&st.Version,
	)
	if err != nil {
		return domain.TwoFactorState{}, mapNotFound(err)
	}

	st.PreferredMethod = domain.Method(preferred)
	st.LockUntil = fromNullMillis(lockUntil)
	st.LastVerifiedAt = fromNullMillis(lastVerified)
	st.Email.HashedOTP = otpHash.String
	st.Email.OTPExpiry = fromNullMillis(otpExpiry)
	st.App.Secret = appSecret.String
	st.WebAuthn.Challenge = challenge.String
	st.WebAuthn.ChallengeExpiry = fromNullMillis(chExpiry)
	st.WebAuthn.SessionData = sessionData

	codes := &backupCodesRepo{db: r.db}
	if st.BackupCodes, err = codes.ListBackupCodes(ctx, userID); err != nil {
		return domain.TwoFactorState{}, err
	}
	creds := &credentialsRepo{db: r.db}
	if st.WebAuthn.Credentials, err = creds.ListCredentials(ctx, userID); err != nil {
		return domain.TwoFactorState{}, err
	}
	return st, nil
}

func (r *twoFactorRepo) SetAppSecret(ctx context.Context, userID, secret string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE two_factor SET app_secret = ? WHERE user_id = ? AND app_enabled = 0`, secret, userID)
	if err != nil {
		return err
	}
	return requireOne(res, store.ErrConflict)
}

func (r *twoFactorRepo) SetEmailOTP(ctx context.Context, userID, hashedOTP string, expiry time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE two_factor SET email_otp_hash = ?, email_otp_expiry = ? WHERE user_id = ?`,
		hashedOTP, toMillis(expiry), userID)
	if err != nil {
		return err
	}
	return requireOne(res, store.ErrNotFound)
}

func (r *twoFactorRepo) ClearEmailOTP(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE two_factor SET email_otp_hash = NULL, email_otp_expiry = NULL WHERE user_id = ?`, userID)
	return err
}

func (r *twoFactorRepo) ConsumeEmailOTP(ctx context.Context, userID, hashedOTP string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE two_factor SET email_otp_hash = NULL, email_otp_expiry = NULL
		 WHERE user_id = ? AND email_otp_hash = ?`, userID, hashedOTP)
	if err != nil {
		return err
	}
	return requireOne(res, store.ErrNotFound)
}

func (r *twoFactorRepo) EnableMethod(ctx context.Context, userID string, m, preferred domain.Method, version int64) error {
	col, err := enabledColumn(m)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE two_factor SET `+col+` = 1, preferred_method = ?, version = version + 1
		 WHERE user_id = ? AND `+col+` = 0 AND version = ?`,
		string(preferred), userID, version)
	if err != nil {
		return err
	}
	return requireOne(res, store.ErrConflict)
}

func (r *twoFactorRepo) DisableMethod(ctx context.Context, userID string, m, preferred domain.Method, version int64) error {
	col, err := enabledColumn(m)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE two_factor SET `+col+` = 0, preferred_method = ?, version = version + 1`+wipeClause(m)+`
		 WHERE user_id = ? AND `+col+` = 1 AND version = ?`,
		string(preferred), userID, version)
	if err != nil {
		return err
	}
	return requireOne(res, store.ErrConflict)
}

func (r *twoFactorRepo) SetPreferredMethod(ctx context.Context, userID string, m domain.Method, version int64) error {
	col, err := enabledColumn(m)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE two_factor SET preferred_method = ?, version = version + 1
		 WHERE user_id = ? AND `+col+` = 1 AND version = ?`,
		string(m), userID, version)
	if err != nil {
		return err
	}
	return requireOne(res, store.ErrConflict)
}

func (r *twoFactorRepo) IncrementAttempts(ctx context.Context, userID string, maxAttempts int, lockUntil time.Time) (int, *time.Time, error) {
	var (
		attempts int
		lock     sql.NullInt64
	)
	// Right-hand expressions see the pre-update row, so attempts + 1 is the
	// new count in both places.
	err := r.db.QueryRowContext(ctx,
		`UPDATE two_factor
		 SET attempts = attempts + 1,
		     lock_until = CASE WHEN attempts + 1 >= ? THEN ? ELSE lock_until END
		 WHERE user_id = ?
		 RETURNING attempts, lock_until`,
		maxAttempts, toMillis(lockUntil), userID,
	).Scan(&attempts, &lock)
	if err != nil {
		return 0, nil, mapNotFound(err)
	}
	return attempts, fromNullMillis(lock), nil
}

func (r *twoFactorRepo) ResetAttempts(ctx context.Context, userID string, verifiedAt *time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE two_factor
		 SET attempts = 0, lock_until = NULL, last_verified_at = COALESCE(?, last_verified_at)
		 WHERE user_id = ?`,
		toNullMillis(verifiedAt), userID)
	return err
}

func (r *twoFactorRepo) SetWebAuthnChallenge(ctx context.Context, userID, challenge string, sessionData []byte, expiry time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE two_factor
		 SET webauthn_challenge = ?, webauthn_session_data = ?, webauthn_challenge_expiry = ?
		 WHERE user_id = ?`,
		challenge, sessionData, toMillis(expiry), userID)
	if err != nil {
		return err
	}
	return requireOne(res, store.ErrNotFound)
}

func (r *twoFactorRepo) ConsumeWebAuthnChallenge(ctx context.Context, userID, challenge string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE two_factor
		 SET webauthn_challenge = NULL, webauthn_session_data = NULL, webauthn_challenge_expiry = NULL
		 WHERE user_id = ? AND webauthn_challenge = ?`,
		userID, challenge)
	if err != nil {
		return err
	}
	return requireOne(res, store.ErrConflict)
}
