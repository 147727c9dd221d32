package authsdk

import (
	"encoding/json"
	"time"

	"github.com/aussiebroadwan/tabauth/pkg/jwtx"
)

// ============================================================================
// Error Types
// ============================================================================

// ErrorResponse is the JSON body of every error.
type ErrorResponse struct {
	// Error is the stable error code (e.g., "invalid_token")
	Error string `json:"error" example:"invalid_credentials"`

	// ErrorDescription is the message in the caller's language
	ErrorDescription string `json:"error_description" example:"Invalid email or password."`
}

// TwoFactorChallengeResponse is the 401 body returned by login when a second
// factor is required.
type TwoFactorChallengeResponse struct {
	Error            string    `json:"error" example:"two_factor_required"`
	ErrorDescription string    `json:"error_description"`
	ChallengeToken   string    `json:"challenge_token"`
	Methods          []string  `json:"methods" example:"app,email"`
	PreferredMethod  string    `json:"preferred_method" example:"app"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// ============================================================================
// Authentication Types
// ============================================================================

// RegisterRequest creates an account.
type RegisterRequest struct {
	Email    string `json:"email" example:"alice@example.com"`
	Password string `json:"password"`
	Locale   string `json:"locale,omitempty" example:"en"`
}

// LoginRequest authenticates with email and password.
type LoginRequest struct {
	Email      string `json:"email" example:"alice@example.com"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

// TokenResponse is returned by every call that creates or refreshes a
// session. The same values are also set as cookies.
type TokenResponse struct {
	// AccessToken is the JWT access token used to authenticate API requests
	AccessToken string `json:"access_token"`

	// RefreshToken is the opaque refresh token; it rotates on every refresh
	RefreshToken string `json:"refresh_token"`

	// TokenType is always "Bearer"
	TokenType string `json:"token_type" example:"Bearer"`

	// ExpiresIn is the lifetime in seconds of the access token
	ExpiresIn int `json:"expires_in" example:"900"`

	// SessionID must accompany the access token (sessionId cookie or X-Session-ID)
	SessionID string `json:"session_id"`

	// RefreshExpiresAt is when the session ends unless refreshed
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// VerifyTwoFactorRequest completes a pending login.
type VerifyTwoFactorRequest struct {
	ChallengeToken string `json:"challenge_token"`
	Method         string `json:"method" example:"app" enums:"app,email,backup"`
	Code           string `json:"code" example:"123456"`
}

// ChallengeRequest names a pending login.
type ChallengeRequest struct {
	ChallengeToken string `json:"challenge_token"`
}

// WebAuthnLoginOptionsRequest starts a security key login, either as the
// second step of a password login (ChallengeToken) or passwordless (Email).
type WebAuthnLoginOptionsRequest struct {
	ChallengeToken string `json:"challenge_token,omitempty"`
	Email          string `json:"email,omitempty"`
}

// WebAuthnLoginVerifyRequest finishes a security key login.
type WebAuthnLoginVerifyRequest struct {
	ChallengeToken string          `json:"challenge_token,omitempty"`
	Email          string          `json:"email,omitempty"`
	RememberMe     bool            `json:"remember_me,omitempty"`
	Response       json.RawMessage `json:"response" swaggertype:"object"`
}

// RefreshRequest rotates a refresh token. Cookies are used when the body is empty.
type RefreshRequest struct {
	SessionID    string `json:"session_id,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// EmailRequest carries an email address (forgot and resend password).
type EmailRequest struct {
	Email string `json:"email" example:"alice@example.com"`
}

// ResetPasswordRequest sets a new password with an emailed token.
type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// VerifyEmailRequest confirms an address with an emailed token.
type VerifyEmailRequest struct {
	Token string `json:"token"`
}

// ChangePasswordRequest changes the password of the signed in user.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// DeleteAccountRequest confirms account deletion.
type DeleteAccountRequest struct {
	Password string `json:"password"`
}

// StatusResponse is a generic acknowledgement.
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

// ============================================================================
// User and Session Types
// ============================================================================

// UserResponse is the signed in user's profile.
type UserResponse struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Role          string    `json:"role" example:"user"`
	Locale        string    `json:"locale,omitempty"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
}

// SessionInfo describes one device session.
type SessionInfo struct {
	ID           string    `json:"id"`
	DeviceType   string    `json:"device_type" example:"desktop"`
	Browser      string    `json:"browser" example:"Firefox"`
	OS           string    `json:"os" example:"Linux"`
	IP           string    `json:"ip"`
	Location     string    `json:"location" example:"unknown"`
	RememberMe   bool      `json:"remember_me"`
	IsCurrent    bool      `json:"is_current"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ListSessionsResponse lists the user's live sessions.
type ListSessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

// RevokeSessionsResponse reports how many sessions were ended.
type RevokeSessionsResponse struct {
	Revoked int64 `json:"revoked"`
}

// ============================================================================
// Two-factor Types
// ============================================================================

// TwoFactorStatusResponse summarises the user's second factors.
type TwoFactorStatusResponse struct {
	Enabled              bool       `json:"enabled"`
	Methods              []string   `json:"methods"`
	PreferredMethod      string     `json:"preferred_method" example:"none"`
	BackupCodesRemaining int        `json:"backup_codes_remaining"`
	WebAuthnCredentials  int        `json:"webauthn_credentials"`
	LockedUntil          *time.Time `json:"locked_until,omitempty"`
}

// PreferredMethodRequest selects the method used first at login.
type PreferredMethodRequest struct {
	Method string `json:"method" example:"app" enums:"app,email,webauthn"`
}

// ConfigureMethodResponse is returned by configure. Secret and URL are only
// set for the authenticator app; email sends a code instead.
type ConfigureMethodResponse struct {
	Method string `json:"method" example:"app"`
	Secret string `json:"secret,omitempty" example:"JBSWY3DPEHPK3PXP"`
	URL    string `json:"url,omitempty" example:"otpauth://totp/tabauth:alice@example.com?secret=JBSWY3DPEHPK3PXP&issuer=tabauth"`
}

// EnableMethodRequest proves control of the method being enabled.
type EnableMethodRequest struct {
	Code string `json:"code" example:"123456"`
}

// ProofRequest authorises a sensitive two-factor change with either the
// account password or a live code.
type ProofRequest struct {
	Password string `json:"password,omitempty"`
	Code     string `json:"code,omitempty"`
}

// BackupCodesResponse returns freshly issued backup codes. Codes are only
// ever shown once.
type BackupCodesResponse struct {
	Codes []string `json:"codes" example:"A1B2C3D4,E5F6A7B8"`
}

// WebAuthnRegisterVerifyRequest finishes a security key registration.
type WebAuthnRegisterVerifyRequest struct {
	Name     string          `json:"name,omitempty" example:"YubiKey"`
	Response json.RawMessage `json:"response" swaggertype:"object"`
}

// WebAuthnCredentialInfo describes a registered security key.
type WebAuthnCredentialInfo struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	DeviceType string     `json:"device_type" example:"single_device"`
	BackedUp   bool       `json:"backed_up"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// WebAuthnRegisterResponse is returned after a key is registered. Codes is
// set when the registration enabled the method and issued backup codes.
type WebAuthnRegisterResponse struct {
	Credential WebAuthnCredentialInfo `json:"credential"`
	Codes      []string               `json:"codes,omitempty"`
}

// ListWebAuthnCredentialsResponse lists the user's security keys.
type ListWebAuthnCredentialsResponse struct {
	Credentials []WebAuthnCredentialInfo `json:"credentials"`
}

// ============================================================================
// Health Types
// ============================================================================

// HealthResponse represents the response structure for health check endpoints.
// Used by both /livez and /readyz endpoints (readyz includes additional Checks field).
type HealthResponse struct {
	// Status indicates the overall health status (e.g., "ok")
	Status string `json:"status"`

	// Uptime is the service uptime duration as a string (e.g., "1h23m45s")
	Uptime string `json:"uptime,omitempty"`

	// Version is the service version string
	Version string `json:"version,omitempty"`

	// Checks contains readiness check results for critical dependencies (only for /readyz)
	Checks *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks represents the status of critical service dependencies.
type HealthChecks struct {
	Database string `json:"database"`
	Signer   string `json:"signer"`
	Cache    string `json:"cache,omitempty"`
}

// ============================================================================
// JWKS Types
// ============================================================================

// JWKSResponse contains the public keys that verify access tokens.
type JWKSResponse jwtx.JWKS

// ============================================================================
// Key Rotation Types
// ============================================================================

// RotateKeyRequest represents a request to rotate signing keys.
type RotateKeyRequest struct {
	// RetireExisting will mark current active keys as retired if true.
	// If false, new key is added alongside existing keys.
	RetireExisting bool `json:"retire_existing"`
}

// SigningKeyInfo represents a JWT signing key with its metadata.
type SigningKeyInfo struct {
	Kid       string     `json:"kid"`
	Algorithm string     `json:"algorithm" example:"EdDSA"`
	Active    bool       `json:"active"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	RetiredAt *time.Time `json:"retired_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ListSigningKeysResponse lists the signing keys.
type ListSigningKeysResponse struct {
	Keys []SigningKeyInfo `json:"keys"`
}

// RotateKeyResponse represents the result of a key rotation operation.
type RotateKeyResponse struct {
	Kid         string   `json:"kid"`
	Algorithm   string   `json:"algorithm"`
	RetiredKids []string `json:"retired_kids,omitempty"`
	ActiveKeys  int      `json:"active_keys"`
}
