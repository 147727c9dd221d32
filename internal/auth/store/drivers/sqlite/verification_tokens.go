package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/tabauth/internal/auth/domain"
)

type verificationTokensRepo struct {
	db dbtx
}

func (r *verificationTokensRepo) PutVerificationToken(ctx context.Context, t domain.VerificationToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO verification_tokens (token_hash, user_id, purpose, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, purpose) DO UPDATE SET
		     token_hash = excluded.token_hash,
		     expires_at = excluded.expires_at,
		     created_at = excluded.created_at`,
		t.TokenHash, t.UserID, string(t.Purpose), toMillis(t.ExpiresAt), toMillis(t.CreatedAt))
	return err
}

func (r *verificationTokensRepo) ConsumeVerificationToken(ctx context.Context, tokenHash string, purpose domain.Purpose) (domain.VerificationToken, error) {
	var (
		t                    domain.VerificationToken
		p                    string
		expiresAt, createdAt int64
	)
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM verification_tokens WHERE token_hash = ? AND purpose = ?
		 RETURNING token_hash, user_id, purpose, expires_at, created_at`,
		tokenHash, string(purpose),
	).Scan(&t.TokenHash, &t.UserID, &p, &expiresAt, &createdAt)
	if err != nil {
		return domain.VerificationToken{}, mapNotFound(err)
	}
	t.Purpose = domain.Purpose(p)
	t.ExpiresAt = fromMillis(expiresAt)
	t.CreatedAt = fromMillis(createdAt)
	return t, nil
}

func (r *verificationTokensRepo) DeleteExpiredVerificationTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM verification_tokens WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
