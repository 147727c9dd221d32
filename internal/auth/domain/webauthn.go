package domain

import "time"

// WebAuthnCredential is a registered authenticator.
type WebAuthnCredential struct {
	ID               string // base64url credential id, unique per user
	UserID           string
	PublicKey        []byte // COSE encoded
	SignatureCounter uint32
	Transports       []string
	DeviceType       string // "single_device" or "multi_device"
	DeviceName       string
	AAGUID           []byte
	AttestationType  string
	BackupEligible   bool
	BackupState      bool
	CreatedAt        time.Time
	LastUsedAt       *time.Time
}
