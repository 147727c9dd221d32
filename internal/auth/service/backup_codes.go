package service

import (
	"fmt"
	"strings"

	"github.com/aussiebroadwan/tabauth/internal/auth/domain"
	"github.com/aussiebroadwan/tabauth/pkg/cryptox"
)

// BackupCodeRotation is the pool to store and the plain codes to show once.
type BackupCodeRotation struct {
	Codes  []domain.BackupCode
	Issued []string
}

// RotateBackupCodes keeps every unused code in current, drops the used ones
// and tops the pool up to domain.BackupCodePoolSize from fresh. Pass a nil
// current to mint a whole new pool.
func RotateBackupCodes(current []domain.BackupCode, fresh []string) BackupCodeRotation {
	var rot BackupCodeRotation
	for _, c := range current {
		if c.Used() || len(rot.Codes) == domain.BackupCodePoolSize {
			continue
		}
		rot.Codes = append(rot.Codes, domain.BackupCode{Hash: c.Hash})
	}
	for _, plain := range fresh {
		if len(rot.Codes) == domain.BackupCodePoolSize {
			break
		}
		plain = NormalizeBackupCode(plain)
		rot.Codes = append(rot.Codes, domain.BackupCode{Hash: cryptox.FingerprintToken(plain)})
		rot.Issued = append(rot.Issued, plain)
	}
	return rot
}

// NormalizeBackupCode trims and upper-cases user input.
func NormalizeBackupCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// HashBackupCode is the stored fingerprint of a plain code.
func HashBackupCode(code string) string {
	return cryptox.FingerprintToken(NormalizeBackupCode(code))
}

// freshBackupCodes generates a full pool worth of plain codes.
func freshBackupCodes() ([]string, error) {
	out := make([]string, domain.BackupCodePoolSize)
	for i := range out {
		code, err := cryptox.GenerateBackupCode()
		if err != nil {
			return nil, fmt.Errorf("generate backup code: %w", err)
		}
		out[i] = code
	}
	return out, nil
}
