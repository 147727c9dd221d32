package domain

import "time"

// SigningKey is a JWT signing key persisted with its private half sealed
// under the master key. Retired keys verify but no longer sign; expired keys
// are removed by housekeeping.
type SigningKey struct {
	ID                  string // ULID
	Kid                 string
	Algorithm           string // EdDSA or ES256
	PrivateKeyEncrypted []byte
	CreatedAt           time.Time
	RetiredAt           *time.Time
	ExpiresAt           time.Time
}
