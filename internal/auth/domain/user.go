package domain

import (
	"strings"
	"time"
)

// Roles a user can hold.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID              string
	Email           string // trimmed, lower-cased
	PasswordHash    string // argon2id PHC string
	Role            string
	TokenVersion    int64 // bumped to invalidate every issued access token
	Locale          string
	EmailVerifiedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EmailVerified reports whether the address has been confirmed.
func (u User) EmailVerified() bool { return u.EmailVerifiedAt != nil }

// NormalizeEmail trims and lower-cases an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidRole reports whether role is known.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAdmin
}
