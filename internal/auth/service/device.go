package service

import (
	"context"
	"strings"
)

const unknown = "unknown"

// DeviceContext is what the HTTP edge knows about the caller.
type DeviceContext struct {
	// SessionID is the sessionId cookie, if the browser already has one.
	SessionID string
	IP        string
	UserAgent string
}

// DeviceResolver turns a User-Agent into a coarse device description.
type DeviceResolver interface {
	Resolve(userAgent string) (deviceType, browser, os string)
}

// GeoLocator maps an IP to a human readable location.
type GeoLocator interface {
	Locate(ctx context.Context, ip string) (string, error)
}

// UserAgentResolver recognises the common browser and OS families by token.
type UserAgentResolver struct{}

func (UserAgentResolver) Resolve(ua string) (deviceType, browser, os string) {
	if strings.TrimSpace(ua) == "" {
		return unknown, unknown, unknown
	}
	return uaDeviceType(ua), uaBrowser(ua), uaOS(ua)
}

func uaDeviceType(ua string) string {
	l := strings.ToLower(ua)
	switch {
	case containsAny(l, "bot", "crawler", "spider"):
		return "bot"
	case containsAny(l, "ipad", "tablet"):
		return "tablet"
	case containsAny(l, "mobile", "iphone", "android"):
		return "mobile"
	}
	return "desktop"
}

// Order matters: Edge and Opera also advertise Chrome, Chrome advertises Safari.
func uaBrowser(ua string) string {
	switch {
	case strings.Contains(ua, "Edg/"):
		return "Edge"
	case containsAny(ua, "OPR/", "Opera"):
		return "Opera"
	case strings.Contains(ua, "Firefox/"):
		return "Firefox"
	case strings.Contains(ua, "Chrome/"):
		return "Chrome"
	case strings.Contains(ua, "Safari/"):
		return "Safari"
	case strings.HasPrefix(ua, "curl/"):
		return "curl"
	}
	return unknown
}

func uaOS(ua string) string {
	switch {
	case strings.Contains(ua, "Windows"):
		return "Windows"
	case containsAny(ua, "iPhone", "iPad"):
		return "iOS"
	case strings.Contains(ua, "Mac OS X"):
		return "macOS"
	case strings.Contains(ua, "Android"):
		return "Android"
	case strings.Contains(ua, "CrOS"):
		return "ChromeOS"
	case strings.Contains(ua, "Linux"):
		return "Linux"
	}
	return unknown
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// NopGeoLocator knows no locations.
type NopGeoLocator struct{}

func (NopGeoLocator) Locate(context.Context, string) (string, error) { return unknown, nil }
