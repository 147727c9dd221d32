package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/tabauth/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrConflict is returned when a conditional update matched no row
	// because the guarded value changed underneath the caller.
	ErrConflict = errors.New("store: conflict")
)

// Store is the root data access interface. Concrete drivers implement this.
// It exposes sub-repositories to keep concerns tidy and testable, and so a
// transaction can only be opened from the root.
type Store interface {
	Users() Users
	Sessions() Sessions
	TwoFactor() TwoFactor
	BackupCodes() BackupCodes
	WebAuthnCredentials() WebAuthnCredentials
	LoginChallenges() LoginChallenges
	VerificationTokens() VerificationTokens
	SigningKeys() SigningKeys

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx runs fn in a transaction, committing when it returns nil and
	// rolling back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	// CreateUser inserts a user. A duplicate email is ErrAlreadyExists.
	CreateUser(ctx context.Context, u domain.User) error

	GetUserByID(ctx context.Context, id string) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	// GetTokenVersion reads only the revocation counter.
	GetTokenVersion(ctx context.Context, userID string) (int64, error)

	// UpdatePasswordHash replaces the hash and bumps token_version, returning
	// the new version.
	UpdatePasswordHash(ctx context.Context, userID, hash string, now time.Time) (int64, error)

	// IncrementTokenVersion bumps token_version and returns the new value.
	IncrementTokenVersion(ctx context.Context, userID string, now time.Time) (int64, error)

	MarkEmailVerified(ctx context.Context, userID string, now time.Time) error

	// DeleteUser cascades to every row owned by the user.
	DeleteUser(ctx context.Context, userID string) error
}

type Sessions interface {
	CreateSession(ctx context.Context, s domain.Session) error
	GetSession(ctx context.Context, id string) (domain.Session, error)

	// RotateSession stores a new refresh hash with version expectedVersion+1.
	// It fails with ErrConflict when the stored version is no longer
	// expectedVersion.
	RotateSession(ctx context.Context, s domain.Session, expectedVersion int64) error

	TouchSession(ctx context.Context, id string, now time.Time) error

	// ListUserSessions returns unexpired sessions ordered by expires_at ascending.
	ListUserSessions(ctx context.Context, userID string, now time.Time) ([]domain.Session, error)

	DeleteSession(ctx context.Context, id string) error

	// DeleteUserSession deletes id only if userID owns it; ErrNotFound otherwise.
	DeleteUserSession(ctx context.Context, userID, id string) error

	// DeleteUserSessions deletes all of the user's sessions except exceptID
	// (empty means none are kept) and returns how many went.
	DeleteUserSessions(ctx context.Context, userID, exceptID string) (int64, error)

	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

type TwoFactor interface {
	// EnsureTwoFactor creates the default row for userID if missing.
	EnsureTwoFactor(ctx context.Context, userID string) error

	// GetTwoFactor loads the state with backup codes and credentials.
	GetTwoFactor(ctx context.Context, userID string) (domain.TwoFactorState, error)

	// SetAppSecret stores a pending TOTP secret while the app method is
	// disabled. ErrConflict if it is enabled.
	SetAppSecret(ctx context.Context, userID, secret string) error

	SetEmailOTP(ctx context.Context, userID, hashedOTP string, expiry time.Time) error
	ClearEmailOTP(ctx context.Context, userID string) error

	// ConsumeEmailOTP clears the code only while it still equals hashedOTP.
	// ErrNotFound when another caller got there first.
	ConsumeEmailOTP(ctx context.Context, userID, hashedOTP string) error

	// The transitions below succeed only while the row is still at version
	// and bump it. ErrConflict otherwise.

	// EnableMethod flips m on and sets preferred, guarded on m being off.
	EnableMethod(ctx context.Context, userID string, m, preferred domain.Method, version int64) error

	// DisableMethod flips m off, wipes its secrets and sets preferred,
	// guarded on m being on.
	DisableMethod(ctx context.Context, userID string, m, preferred domain.Method, version int64) error

	// SetPreferredMethod succeeds only while m is enabled.
	SetPreferredMethod(ctx context.Context, userID string, m domain.Method, version int64) error

	// IncrementAttempts atomically adds a failure and sets lock_until when the
	// new count reaches maxAttempts.
	IncrementAttempts(ctx context.Context, userID string, maxAttempts int, lockUntil time.Time) (int, *time.Time, error)

	// ResetAttempts clears the counter and lock. A non-nil verifiedAt also
	// stamps last_verified_at.
	ResetAttempts(ctx context.Context, userID string, verifiedAt *time.Time) error

	// SetWebAuthnChallenge overwrites any outstanding ceremony challenge.
	SetWebAuthnChallenge(ctx context.Context, userID, challenge string, sessionData []byte, expiry time.Time) error

	// ConsumeWebAuthnChallenge clears the challenge only if it still equals
	// challenge. ErrConflict otherwise.
	ConsumeWebAuthnChallenge(ctx context.Context, userID, challenge string) error
}

type BackupCodes interface {
	// ReplaceBackupCodes swaps the user's whole pool.
	ReplaceBackupCodes(ctx context.Context, userID string, codes []domain.BackupCode) error

	ListBackupCodes(ctx context.Context, userID string) ([]domain.BackupCode, error)

	// ConsumeBackupCode marks one unused code as used. ErrNotFound if no
	// unused code has that hash.
	ConsumeBackupCode(ctx context.Context, userID, hash string, now time.Time) error

	DeleteAllBackupCodes(ctx context.Context, userID string) error
}

type WebAuthnCredentials interface {
	CreateCredential(ctx context.Context, c domain.WebAuthnCredential) error
	ListCredentials(ctx context.Context, userID string) ([]domain.WebAuthnCredential, error)
	GetCredential(ctx context.Context, userID, id string) (domain.WebAuthnCredential, error)

	// UpdateCredentialUse stores the new counter guarded on the old one.
	UpdateCredentialUse(ctx context.Context, userID, id string, oldCounter, newCounter uint32, backupState bool, usedAt time.Time) error

	DeleteCredential(ctx context.Context, userID, id string) error
	DeleteAllCredentials(ctx context.Context, userID string) error
}

type LoginChallenges interface {
	CreateLoginChallenge(ctx context.Context, c domain.LoginChallenge) error
	GetLoginChallenge(ctx context.Context, tokenHash string) (domain.LoginChallenge, error)

	// DeleteLoginChallenge returns ErrNotFound if another caller got there first.
	DeleteLoginChallenge(ctx context.Context, tokenHash string) error

	DeleteExpiredLoginChallenges(ctx context.Context, now time.Time) (int64, error)
}

type VerificationTokens interface {
	// PutVerificationToken replaces any token for the same user and purpose.
	PutVerificationToken(ctx context.Context, t domain.VerificationToken) error

	// ConsumeVerificationToken deletes and returns the token in one step.
	ConsumeVerificationToken(ctx context.Context, tokenHash string, purpose domain.Purpose) (domain.VerificationToken, error)

	DeleteExpiredVerificationTokens(ctx context.Context, now time.Time) (int64, error)
}

type SigningKeys interface {
	CreateSigningKey(ctx context.Context, key domain.SigningKey) error

	// ListSigningKeys returns keys that have not expired, newest first.
	ListSigningKeys(ctx context.Context, now time.Time) ([]domain.SigningKey, error)

	RetireSigningKey(ctx context.Context, kid string, now time.Time) error
	DeleteExpiredSigningKeys(ctx context.Context, now time.Time) (int64, error)
}
