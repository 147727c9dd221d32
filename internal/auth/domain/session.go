package domain

import "time"

// Sessions a user may hold at once.
const MaxSessionsPerUser = 5

// Refresh lifetimes.
const (
	RememberMeSessionTTL = 30 * 24 * time.Hour
	ShortSessionTTL      = 24 * time.Hour
)

// DeviceInfo is the best-effort description of the client.
type DeviceInfo struct {
	IP         string
	UserAgent  string
	DeviceType string
	Browser    string
	OS         string
	Location   string
}

// Session is one logged-in device.
type Session struct {
	ID                  string // UUID v4, client visible
	UserID              string
	HashedRefreshToken  string
	RefreshTokenVersion int64
	RememberMe          bool
	Device              DeviceInfo
	CreatedAt           time.Time
	LastActiveAt        time.Time
	ExpiresAt           time.Time
}

// Expired reports whether the session has passed its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// SessionTTL returns the refresh lifetime for rememberMe.
func SessionTTL(rememberMe bool) time.Duration {
	if rememberMe {
		return RememberMeSessionTTL
	}
	return ShortSessionTTL
}

// SessionView is a session as shown to its owner.
type SessionView struct {
	ID           string    `json:"id"`
	DeviceType   string    `json:"device_type"`
	Browser      string    `json:"browser"`
	OS           string    `json:"os"`
	IP           string    `json:"ip"`
	Location     string    `json:"location"`
	RememberMe   bool      `json:"remember_me"`
	IsCurrent    bool      `json:"is_current"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// View projects the session for listing, without the refresh hash.
func (s Session) View(currentID string) SessionView {
	return SessionView{
		ID:           s.ID,
		DeviceType:   s.Device.DeviceType,
		Browser:      s.Device.Browser,
		OS:           s.Device.OS,
		IP:           s.Device.IP,
		Location:     s.Device.Location,
		RememberMe:   s.RememberMe,
		IsCurrent:    s.ID == currentID,
		CreatedAt:    s.CreatedAt,
		LastActiveAt: s.LastActiveAt,
		ExpiresAt:    s.ExpiresAt,
	}
}
