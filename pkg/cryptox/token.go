package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// Token size constants (in bytes before encoding).
const (
	// TokenSize128 provides 128 bits of entropy (22 chars base64url).
	TokenSize128 = 16
	// TokenSize256 provides 256 bits of entropy (43 chars base64url).
	TokenSize256 = 32
)

const (
	// BackupCodeLength is the number of hex characters in a backup code.
	BackupCodeLength = 8
	// OTPDigits is the length of email and app one-time codes.
	OTPDigits = 6

	secretSaltSize = 16
)

// GenerateToken creates a cryptographically secure random token of the specified byte length.
// The token is returned as a base64url-encoded string (URL-safe, no padding).
func GenerateToken(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("token size must be positive, got %d", size)
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// FingerprintToken returns a deterministic SHA-256 fingerprint of a token.
// It is used where the stored value must also serve as the lookup key
// (reset tokens, login challenges, backup codes).
func FingerprintToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// HashSecret returns "salt.digest" where digest is SHA-256(salt || secret).
// The salt travels with the digest so VerifySecret needs only the stored string.
func HashSecret(secret string) (string, error) {
	salt := make([]byte, secretSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return encodeSecret(salt, secret), nil
}

// VerifySecret reports whether secret matches an encoded HashSecret value.
// The comparison is constant time.
func VerifySecret(secret, encoded string) bool {
	saltPart, _, ok := strings.Cut(encoded, ".")
	if !ok {
		return false
	}
	salt, err := base64.RawURLEncoding.DecodeString(saltPart)
	if err != nil {
		return false
	}
	computed := encodeSecret(salt, secret)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(encoded)) == 1
}

func encodeSecret(salt []byte, secret string) string {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(secret))
	return base64.RawURLEncoding.EncodeToString(salt) + "." + base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// GenerateNumericCode returns a uniformly random decimal code with exactly
// the requested number of digits (leading zeros kept).
func GenerateNumericCode(digits int) (string, error) {
	if digits <= 0 || digits > 18 {
		return "", fmt.Errorf("invalid code length %d", digits)
	}
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

// GenerateBackupCode returns BackupCodeLength uppercase hex characters.
func GenerateBackupCode() (string, error) {
	buf := make([]byte, BackupCodeLength/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate backup code: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}
