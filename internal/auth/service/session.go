package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/tabauth/internal/auth/domain"
	"github.com/aussiebroadwan/tabauth/internal/auth/store"
	"github.com/aussiebroadwan/tabauth/pkg/slogx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// SessionService owns the device sessions and their rotating refresh tokens.
type SessionService struct {
	Store   store.Store
	Tokens  *TokenService
	Devices DeviceResolver
	Geo     GeoLocator

	// MaxSessions defaults to domain.MaxSessionsPerUser.
	MaxSessions int

	Now func() time.Time
}

func (s *SessionService) maxSessions() int {
	if s.MaxSessions <= 0 {
		return domain.MaxSessionsPerUser
	}
	return s.MaxSessions
}

// describe fills in device details. Lookups are best effort.
func (s *SessionService) describe(ctx context.Context, dc DeviceContext) domain.DeviceInfo {
	info := domain.DeviceInfo{
		IP:         dc.IP,
		UserAgent:  dc.UserAgent,
		DeviceType: unknown,
		Browser:    unknown,
		OS:         unknown,
		Location:   unknown,
	}
	if s.Devices != nil {
		info.DeviceType, info.Browser, info.OS = s.Devices.Resolve(dc.UserAgent)
	}
	if s.Geo != nil && dc.IP != "" {
		loc, err := s.Geo.Locate(ctx, dc.IP)
		switch {
		case err != nil:
			slogx.FromContext(ctx).Debug("geolocation failed", slog.String("ip", dc.IP), slog.Any("error", err))
		case loc != "":
			info.Location = loc
		}
	}
	return info
}

// CreateSession starts or resumes the device's session and returns a fresh
// token pair. A session named by dc.SessionID is resumed only while it is
// unexpired and owned by user; resuming rotates its refresh token.
func (s *SessionService) CreateSession(ctx context.Context, user domain.User, dc DeviceContext, rememberMe bool) (domain.TokenPair, error) {
	ctx, span := tracer.Start(ctx, "SessionService.CreateSession")
	defer span.End()

	now := nowOr(s.Now)
	device := s.describe(ctx, dc)

	raw, hash, err := IssueRefreshToken()
	if err != nil {
		return domain.TokenPair{}, err
	}

	var sess domain.Session
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if dc.SessionID != "" {
			existing, err := tx.Sessions().GetSession(ctx, dc.SessionID)
			switch {
			case err == nil && existing.UserID == user.ID && !existing.Expired(now):
				sess = existing
				sess.HashedRefreshToken = hash
				sess.RememberMe = rememberMe
				sess.Device = device
				sess.LastActiveAt = now
				sess.ExpiresAt = now.Add(domain.SessionTTL(rememberMe))
				if err := tx.Sessions().RotateSession(ctx, sess, existing.RefreshTokenVersion); err != nil {
					return mapConflict(err)
				}
				sess.RefreshTokenVersion = existing.RefreshTokenVersion + 1
				return nil
			case err != nil && !errors.Is(err, store.ErrNotFound):
				return fmt.Errorf("load session: %w", err)
			}
		}

		active, err := tx.Sessions().ListUserSessions(ctx, user.ID, now)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		// Oldest-expiring first.
		for len(active) >= s.maxSessions() {
			if err := tx.Sessions().DeleteSession(ctx, active[0].ID); err != nil {
				return fmt.Errorf("evict session: %w", err)
			}
			slogx.FromContext(ctx).Info("session evicted", slog.String("user_id", user.ID), slog.String("session_id", active[0].ID))
			active = active[1:]
		}

		sess = domain.Session{
			ID:                  uuid.NewString(),
			UserID:              user.ID,
			HashedRefreshToken:  hash,
			RefreshTokenVersion: 1,
			RememberMe:          rememberMe,
			Device:              device,
			CreatedAt:           now,
			LastActiveAt:        now,
			ExpiresAt:           now.Add(domain.SessionTTL(rememberMe)),
		}
		if err := tx.Sessions().CreateSession(ctx, sess); err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.TokenPair{}, err
	}

	span.SetAttributes(attribute.String("session.id", sess.ID))
	return s.pair(user, sess, raw)
}

func (s *SessionService) pair(user domain.User, sess domain.Session, raw string) (domain.TokenPair, error) {
	access, accessExp, err := s.Tokens.IssueAccessToken(user, sess.ID, sess.RefreshTokenVersion)
	if err != nil {
		return domain.TokenPair{}, err
	}
	return domain.TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     raw,
		RefreshExpiresAt: sess.ExpiresAt,
		SessionID:        sess.ID,
	}, nil
}

// Refresh rotates the session's refresh token. A token that does not match
// the stored hash on a live session is a replay: the session is deleted.
func (s *SessionService) Refresh(ctx context.Context, sessionID, rawRefresh string) (domain.TokenPair, error) {
	ctx, span := tracer.Start(ctx, "SessionService.Refresh")
	defer span.End()

	l := slogx.FromContext(ctx)
	now := nowOr(s.Now)

	if sessionID == "" || rawRefresh == "" {
		return domain.TokenPair{}, ErrInvalidToken
	}

	sess, err := s.Store.Sessions().GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.TokenPair{}, ErrSessionRevoked
		}
		return domain.TokenPair{}, fmt.Errorf("load session: %w", err)
	}

	if sess.Expired(now) {
		if err := s.Store.Sessions().DeleteSession(ctx, sess.ID); err != nil {
			l.Warn("failed to delete expired session", slog.String("session_id", sess.ID), slog.Any("error", err))
		}
		return domain.TokenPair{}, ErrSessionExpired
	}

	if !VerifyRefreshToken(rawRefresh, sess.HashedRefreshToken) {
		l.Warn("refresh token replay, revoking session",
			slog.String("user_id", sess.UserID), slog.String("session_id", sess.ID))
		if err := s.Store.Sessions().DeleteSession(ctx, sess.ID); err != nil {
			return domain.TokenPair{}, fmt.Errorf("revoke session: %w", err)
		}
		return domain.TokenPair{}, ErrSessionRevoked
	}

	user, err := s.Store.Users().GetUserByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.TokenPair{}, ErrSessionRevoked
		}
		return domain.TokenPair{}, fmt.Errorf("load user: %w", err)
	}

	raw, hash, err := IssueRefreshToken()
	if err != nil {
		return domain.TokenPair{}, err
	}

	next := sess
	next.HashedRefreshToken = hash
	next.LastActiveAt = now
	next.ExpiresAt = now.Add(domain.SessionTTL(sess.RememberMe))
	if err := s.Store.Sessions().RotateSession(ctx, next, sess.RefreshTokenVersion); err != nil {
		return domain.TokenPair{}, mapConflict(err)
	}
	next.RefreshTokenVersion = sess.RefreshTokenVersion + 1

	return s.pair(user, next, raw)
}

// Validate is the gateway's session check.
func (s *SessionService) Validate(ctx context.Context, userID, sessionID string) (domain.Session, error) {
	sess, err := s.Store.Sessions().GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Session{}, ErrSessionRevoked
		}
		return domain.Session{}, fmt.Errorf("load session: %w", err)
	}
	if sess.UserID != userID {
		return domain.Session{}, ErrSessionRevoked
	}
	if sess.Expired(nowOr(s.Now)) {
		return domain.Session{}, ErrSessionExpired
	}
	return sess, nil
}

// ListActiveSessions returns the user's live sessions, flagging the current one.
func (s *SessionService) ListActiveSessions(ctx context.Context, userID, currentSessionID string) ([]domain.SessionView, error) {
	list, err := s.Store.Sessions().ListUserSessions(ctx, userID, nowOr(s.Now))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]domain.SessionView, 0, len(list))
	for _, sess := range list {
		out = append(out, sess.View(currentSessionID))
	}
	return out, nil
}

// RevokeSession deletes another of the user's sessions. The session making
// the request must use Logout instead.
func (s *SessionService) RevokeSession(ctx context.Context, userID, sessionID, currentSessionID string) error {
	if sessionID == currentSessionID {
		return ErrCannotRevokeCurrent
	}
	if err := s.Store.Sessions().DeleteUserSession(ctx, userID, sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("delete session: %w", err)
	}
	slogx.FromContext(ctx).Info("session revoked", slog.String("user_id", userID), slog.String("session_id", sessionID))
	return nil
}

// RevokeAllSessions deletes all of the user's sessions except exceptSessionID.
// An empty exception ends every session including the caller's.
func (s *SessionService) RevokeAllSessions(ctx context.Context, userID, exceptSessionID string) (int64, error) {
	n, err := s.Store.Sessions().DeleteUserSessions(ctx, userID, exceptSessionID)
	if err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}
	slogx.FromContext(ctx).Info("sessions revoked", slog.String("user_id", userID), slog.Int64("count", n))
	return n, nil
}

// Logout ends one session.
func (s *SessionService) Logout(ctx context.Context, sessionID string) error {
	if err := s.Store.Sessions().DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func mapConflict(err error) error {
	if errors.Is(err, store.ErrConflict) {
		return ErrConcurrentModification
	}
	return err
}
