package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/tabauth/internal/auth/domain"
	"github.com/aussiebroadwan/tabauth/internal/auth/store"
)

type backupCodesRepo struct {
	db dbtx
}

func (r *backupCodesRepo) ReplaceBackupCodes(ctx context.Context, userID string, codes []domain.BackupCode) error {
	if err := r.DeleteAllBackupCodes(ctx, userID); err != nil {
		return err
	}
	for _, c := range codes {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO backup_codes (user_id, code_hash, used_at) VALUES (?, ?, ?)`,
			userID, c.Hash, toNullMillis(c.UsedAt))
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *backupCodesRepo) ListBackupCodes(ctx context.Context, userID string) ([]domain.BackupCode, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT code_hash, used_at FROM backup_codes WHERE user_id = ? ORDER BY rowid`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.BackupCode
	for rows.Next() {
		var (
			c      domain.BackupCode
			usedAt sql.NullInt64
		)
		if err := rows.Scan(&c.Hash, &usedAt); err != nil {
			return nil, err
		}
		c.UsedAt = fromNullMillis(usedAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ConsumeBackupCode only matches an unused code, so two concurrent
// redemptions of one code cannot both succeed.
func (r *backupCodesRepo) ConsumeBackupCode(ctx context.Context, userID, hash string, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE backup_codes SET used_at = ? WHERE user_id = ? AND code_hash = ? AND used_at IS NULL`,
		toMillis(now), userID, hash)
	if err != nil {
		return err
	}
	return requireOne(res, store.ErrNotFound)
}

func (r *backupCodesRepo) DeleteAllBackupCodes(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM backup_codes WHERE user_id = ?`, userID)
	return err
}
