package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/tabauth/internal/auth/domain"
	"github.com/aussiebroadwan/tabauth/pkg/slogx"
)

// CodeContext tells the mailer why an email code was sent.
type CodeContext string

const (
	CodeContextConfig  CodeContext = "config"
	CodeContextLogin   CodeContext = "login"
	CodeContextDisable CodeContext = "disable"
)

// Mailer delivers outbound email. Implementations receive data only and own
// all formatting.
type Mailer interface {
	SendCode(ctx context.Context, user domain.User, code string, expiresAt time.Time, codeCtx CodeContext) error
	SendLoginNotification(ctx context.Context, user domain.User, device domain.DeviceInfo) error
	SendPasswordReset(ctx context.Context, user domain.User, token string, expiresAt time.Time) error
	SendEmailVerification(ctx context.Context, user domain.User, token string, expiresAt time.Time) error
}

// LogMailer writes every message to the context logger instead of sending
// it. Secrets are only logged when Reveal is set.
type LogMailer struct {
	Reveal bool
}

func (m LogMailer) secret(v string) string {
	if m.Reveal {
		return v
	}
	return "[redacted]"
}

func (m LogMailer) SendCode(ctx context.Context, user domain.User, code string, expiresAt time.Time, codeCtx CodeContext) error {
	slogx.FromContext(ctx).Info("mail: two-factor code",
		slog.String("to", user.Email),
		slog.String("context", string(codeCtx)),
		slog.String("code", m.secret(code)),
		slog.Time("expires_at", expiresAt),
	)
	return nil
}

func (m LogMailer) SendLoginNotification(ctx context.Context, user domain.User, device domain.DeviceInfo) error {
	slogx.FromContext(ctx).Info("mail: new sign-in",
		slog.String("to", user.Email),
		slog.String("ip", device.IP),
		slog.String("browser", device.Browser),
		slog.String("os", device.OS),
		slog.String("location", device.Location),
	)
	return nil
}

func (m LogMailer) SendPasswordReset(ctx context.Context, user domain.User, token string, expiresAt time.Time) error {
	slogx.FromContext(ctx).Info("mail: password reset",
		slog.String("to", user.Email),
		slog.String("token", m.secret(token)),
		slog.Time("expires_at", expiresAt),
	)
	return nil
}

func (m LogMailer) SendEmailVerification(ctx context.Context, user domain.User, token string, expiresAt time.Time) error {
	slogx.FromContext(ctx).Info("mail: verify email",
		slog.String("to", user.Email),
		slog.String("token", m.secret(token)),
		slog.Time("expires_at", expiresAt),
	)
	return nil
}
