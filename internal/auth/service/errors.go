package service

import (
	"errors"
	"time"

	"github.com/aussiebroadwan/tabauth/internal/auth/domain"
)

// Verification and state errors. The values double as the wire error codes.
var (
	ErrInvalidCredentials      = errors.New("invalid_credentials")
	ErrInvalidToken            = errors.New("invalid_token")
	ErrSessionExpired          = errors.New("session_expired")
	ErrSessionRevoked          = errors.New("session_revoked")
	ErrSessionNotFound         = errors.New("session_not_found")
	ErrCannotRevokeCurrent     = errors.New("cannot_revoke_current_session")
	ErrTwoFactorInvalidCode    = errors.New("two_factor_invalid_code")
	ErrTwoFactorLocked         = errors.New("two_factor_locked")
	ErrTwoFactorSetupRequired  = errors.New("two_factor_setup_required")
	ErrTwoFactorAlreadyEnabled = errors.New("two_factor_already_enabled")
	ErrWebAuthnFailed          = errors.New("webauthn_failed")
	ErrConcurrentModification  = errors.New("concurrent_modification")
	ErrCredentialNotFound      = errors.New("credential_not_found")
	ErrEmailTaken              = errors.New("email_taken")
	ErrWeakPassword            = errors.New("weak_password")
	ErrInvalidRequest          = errors.New("invalid_request")
	ErrRateLimited             = errors.New("rate_limited")
	ErrSigningKeyNotFound      = errors.New("signing_key_not_found")
	ErrUserNotFound            = errors.New("user_not_found")
)

// Password length bounds.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

// TwoFactorRequiredError is returned by Login when a second factor must be
// presented. No tokens have been issued.
type TwoFactorRequiredError struct {
	Challenge domain.TwoFactorChallenge
}

func (e *TwoFactorRequiredError) Error() string { return "two_factor_required" }

// ChallengeToken is the opaque token the client echoes back.
func (e *TwoFactorRequiredError) ChallengeToken() string { return e.Challenge.Token }

// ExpiresAt is when the pending login lapses.
func (e *TwoFactorRequiredError) ExpiresAt() time.Time { return e.Challenge.ExpiresAt }
