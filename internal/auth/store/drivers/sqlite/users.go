package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/tabauth/internal/auth/domain"
	"github.com/aussiebroadwan/tabauth/internal/auth/store"
)

type usersRepo struct {
	db dbtx
}

const userColumns = `id, email, password_hash, role, token_version, locale, email_verified_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (domain.User, error) {
	var (
		u                    domain.User
		verified             sql.NullInt64
		createdAt, updatedAt int64
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.TokenVersion, &u.Locale, &verified, &createdAt, &updatedAt)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	u.EmailVerifiedAt = fromNullMillis(verified)
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return u, nil
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.Role, u.TokenVersion, u.Locale,
		toNullMillis(u.EmailVerifiedAt), toMillis(u.CreatedAt), toMillis(u.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (r *usersRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

func (r *usersRepo) GetTokenVersion(ctx context.Context, userID string) (int64, error) {
	var v int64
	err := r.db.QueryRowContext(ctx, `SELECT token_version FROM users WHERE id = ?`, userID).Scan(&v)
	if err != nil {
		return 0, mapNotFound(err)
	}
	return v, nil
}

func (r *usersRepo) UpdatePasswordHash(ctx context.Context, userID, hash string, now time.Time) (int64, error) {
	var v int64
	err := r.db.QueryRowContext(ctx,
		`UPDATE users SET password_hash = ?, token_version = token_version + 1, updated_at = ?
		 WHERE id = ? RETURNING token_version`,
		hash, toMillis(now), userID,
	).Scan(&v)
	if err != nil {
		return 0, mapNotFound(err)
	}
	return v, nil
}

func (r *usersRepo) IncrementTokenVersion(ctx context.Context, userID string, now time.Time) (int64, error) {
	var v int64
	err := r.db.QueryRowContext(ctx,
		`UPDATE users SET token_version = token_version + 1, updated_at = ? WHERE id = ? RETURNING token_version`,
		toMillis(now), userID,
	).Scan(&v)
	if err != nil {
		return 0, mapNotFound(err)
	}
	return v, nil
}

func (r *usersRepo) MarkEmailVerified(ctx context.Context, userID string, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET email_verified_at = COALESCE(email_verified_at, ?), updated_at = ? WHERE id = ?`,
		toMillis(now), toMillis(now), userID,
	)
	if err != nil {
		return err
	}
	return requireOne(res, store.ErrNotFound)
}

func (r *usersRepo) DeleteUser(ctx context.Context, userID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID)
	if err != nil {
		return err
	}
	return requireOne(res, store.ErrNotFound)
}
