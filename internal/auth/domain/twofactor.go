package domain

import "time"

// Method is a second-factor method.
type Method string

const (
	MethodEmail    Method = "email"
	MethodApp      Method = "app"
	MethodWebAuthn Method = "webauthn"
	MethodNone     Method = "none"

	// MethodBackup is accepted at login only. It is never enabled or preferred.
	MethodBackup Method = "backup"
)

// reassignOrder is the order a new preferred method is picked in when the
// current one is disabled.
var reassignOrder = []Method{MethodApp, MethodWebAuthn, MethodEmail}

// ParseMethod accepts the three configurable methods.
func ParseMethod(s string) (Method, bool) {
	switch m := Method(s); m {
	case MethodEmail, MethodApp, MethodWebAuthn:
		return m, true
	}
	return "", false
}

// ParseLoginMethod also accepts backup codes.
func ParseLoginMethod(s string) (Method, bool) {
	if Method(s) == MethodBackup {
		return MethodBackup, true
	}
	return ParseMethod(s)
}

// Codes issued at once and kept unused at most.
const BackupCodePoolSize = 8

type BackupCode struct {
	Hash   string // fingerprint of the plain code
	UsedAt *time.Time
}

// Used reports whether the code has been consumed.
func (c BackupCode) Used() bool { return c.UsedAt != nil }

type EmailMethod struct {
	Enabled   bool
	HashedOTP string
	OTPExpiry *time.Time
}

type AppMethod struct {
	Enabled bool
	Secret  string // base32 TOTP secret, pending until Enabled
}

type WebAuthnMethod struct {
	Enabled         bool
	Challenge       string
	ChallengeExpiry *time.Time
	SessionData     []byte // go-webauthn SessionData as JSON
	Credentials     []WebAuthnCredential
}

// TwoFactorState is the per-user second-factor record.
type TwoFactorState struct {
	UserID          string
	PreferredMethod Method
	Attempts        int
	LockUntil       *time.Time
	LastVerifiedAt  *time.Time

	Email    EmailMethod
	App      AppMethod
	WebAuthn WebAuthnMethod

	BackupCodes []BackupCode

	// Version is bumped by every enable, disable and preference change.
	Version int64
}

// MethodEnabled reports whether m is currently enabled.
func (s TwoFactorState) MethodEnabled(m Method) bool {
	switch m {
	case MethodEmail:
		return s.Email.Enabled
	case MethodApp:
		return s.App.Enabled
	case MethodWebAuthn:
		return s.WebAuthn.Enabled
	}
	return false
}

// EnabledMethods lists the enabled methods in reassignment order.
func (s TwoFactorState) EnabledMethods() []Method {
	var out []Method
	for _, m := range reassignOrder {
		if s.MethodEnabled(m) {
			out = append(out, m)
		}
	}
	return out
}

// IsEnabled is true iff at least one method is enabled.
func (s TwoFactorState) IsEnabled() bool {
	return len(s.EnabledMethods()) > 0
}

// IsLocked reports whether verification is refused at now.
func (s TwoFactorState) IsLocked(now time.Time) bool {
	return s.LockUntil != nil && now.Before(*s.LockUntil)
}

// UnusedBackupCodes counts codes still available.
func (s TwoFactorState) UnusedBackupCodes() int {
	n := 0
	for _, c := range s.BackupCodes {
		if !c.Used() {
			n++
		}
	}
	return n
}

// NextPreferred returns the method preferredMethod should point at once
// disabled is switched off: the current preference if it stays enabled,
// otherwise the first enabled method in app, webauthn, email order, or none.
func (s TwoFactorState) NextPreferred(disabled Method) Method {
	if s.PreferredMethod != disabled && s.PreferredMethod != MethodNone && s.MethodEnabled(s.PreferredMethod) {
		return s.PreferredMethod
	}
	for _, m := range reassignOrder {
		if m != disabled && s.MethodEnabled(m) {
			return m
		}
	}
	return MethodNone
}
