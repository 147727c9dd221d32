package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/tabauth/internal/auth/domain"
	"github.com/aussiebroadwan/tabauth/internal/auth/store"
)

type sessionsRepo struct {
	db dbtx
}

const sessionColumns = `id, user_id, refresh_token_hash, refresh_token_version, remember_me,
	ip, user_agent, device_type, browser, os, location, created_at, last_active_at, expires_at`

func scanSession(row interface{ Scan(...any) error }) (domain.Session, error) {
	var (
		s                              domain.Session
		createdAt, activeAt, expiresAt int64
	)
	err := row.Scan(
		&s.ID, &s.UserID, &s.HashedRefreshToken, &s.RefreshTokenVersion, &s.RememberMe,
		&s.Device.IP, &s.Device.UserAgent, &s.Device.DeviceType, &s.Device.Browser, &s.Device.OS, &s.Device.Location,
		&createdAt, &activeAt, &expiresAt,
	)
	if err != nil {
		return domain.Session{}, mapNotFound(err)
	}
	s.CreatedAt = fromMillis(createdAt)
	s.LastActiveAt = fromMillis(activeAt)
	s.ExpiresAt = fromMillis(expiresAt)
	return s, nil
}

func (r *sessionsRepo) CreateSession(ctx context.Context, s domain.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.HashedRefreshToken, s.RefreshTokenVersion, boolInt(s.RememberMe),
		s.Device.IP, s.Device.UserAgent, s.Device.DeviceType, s.Device.Browser, s.Device.OS, s.Device.Location,
		toMillis(s.CreatedAt), toMillis(s.LastActiveAt), toMillis(s.ExpiresAt),
	)
	if isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *sessionsRepo) GetSession(ctx context.Context, id string) (domain.Session, error) {
	return scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
}

func (r *sessionsRepo) RotateSession(ctx context.Context, s domain.Session, expectedVersion int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions
		 SET refresh_token_hash = ?, refresh_token_version = ?, remember_me = ?,
		     ip = ?, user_agent = ?, device_type = ?, browser = ?, os = ?, location = ?,
		     last_active_at = ?, expires_at = ?
		 WHERE id = ? AND refresh_token_version = ?`,
		s.HashedRefreshToken, expectedVersion+1, boolInt(s.RememberMe),
		s.Device.IP, s.Device.UserAgent, s.Device.DeviceType, s.Device.Browser, s.Device.OS, s.Device.Location,
		toMillis(s.LastActiveAt), toMillis(s.ExpiresAt),
		s.ID, expectedVersion,
	)
	if err != nil {
		return err
	}
	return requireOne(res, store.ErrConflict)
}

func (r *sessionsRepo) TouchSession(ctx context.Context, id string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE sessions SET last_active_at = ? WHERE id = ?`, toMillis(now), id)
	if err != nil {
		return err
	}
	return requireOne(res, store.ErrNotFound)
}

func (r *sessionsRepo) ListUserSessions(ctx context.Context, userID string, now time.Time) ([]domain.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? AND expires_at > ?
		 ORDER BY expires_at ASC, created_at ASC`,
		userID, toMillis(now),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *sessionsRepo) DeleteSession(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

func (r *sessionsRepo) DeleteUserSession(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	return requireOne(res, store.ErrNotFound)
}

func (r *sessionsRepo) DeleteUserSessions(ctx context.Context, userID, exceptID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ? AND id != ?`, userID, exceptID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *sessionsRepo) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
