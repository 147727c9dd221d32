package domain

import "time"

// LoginChallengeTTL bounds the time between password and second factor.
const LoginChallengeTTL = 10 * time.Minute

// LoginChallenge is a pending second login step. Only the fingerprint of the
// challenge token is stored.
type LoginChallenge struct {
	TokenHash  string
	UserID     string
	RememberMe bool
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// Purpose distinguishes verification tokens.
type Purpose string

const (
	PurposeEmailVerify   Purpose = "email_verify"
	PurposePasswordReset Purpose = "password_reset"
)

// Verification token lifetimes.
const (
	EmailVerifyTTL         = 24 * time.Hour
	PasswordResetTTL       = time.Hour
	PasswordResetResendTTL = 24 * time.Hour
)

// VerificationToken is an emailed one-shot token. At most one exists per
// (user, purpose).
type VerificationToken struct {
	TokenHash string
	UserID    string
	Purpose   Purpose
	ExpiresAt time.Time
	CreatedAt time.Time
}
