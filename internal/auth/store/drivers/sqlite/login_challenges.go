package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/tabauth/internal/auth/domain"
	"github.com/aussiebroadwan/tabauth/internal/auth/store"
)

type loginChallengesRepo struct {
	db dbtx
}

func (r *loginChallengesRepo) CreateLoginChallenge(ctx context.Context, c domain.LoginChallenge) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO login_challenges (token_hash, user_id, remember_me, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.TokenHash, c.UserID, boolInt(c.RememberMe), toMillis(c.ExpiresAt), toMillis(c.CreatedAt))
	if isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *loginChallengesRepo) GetLoginChallenge(ctx context.Context, tokenHash string) (domain.LoginChallenge, error) {
	var (
		c                    domain.LoginChallenge
		expiresAt, createdAt int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT token_hash, user_id, remember_me, expires_at, created_at FROM login_challenges WHERE token_hash = ?`,
		tokenHash,
	).Scan(&c.TokenHash, &c.UserID, &c.RememberMe, &expiresAt, &createdAt)
	if err != nil {
		return domain.LoginChallenge{}, mapNotFound(err)
	}
	c.ExpiresAt = fromMillis(expiresAt)
	c.CreatedAt = fromMillis(createdAt)
	return c, nil
}

func (r *loginChallengesRepo) DeleteLoginChallenge(ctx context.Context, tokenHash string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM login_challenges WHERE token_hash = ?`, tokenHash)
	if err != nil {
		return err
	}
	return requireOne(res, store.ErrNotFound)
}

func (r *loginChallengesRepo) DeleteExpiredLoginChallenges(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM login_challenges WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
