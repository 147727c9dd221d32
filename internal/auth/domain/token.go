package domain

import "time"

// TokenPair is what a successful login, second factor or refresh returns.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	SessionID        string
}

// TwoFactorChallenge is returned instead of tokens when a second factor is needed.
type TwoFactorChallenge struct {
	Token           string
	Methods         []Method
	PreferredMethod Method
	ExpiresAt       time.Time
}
