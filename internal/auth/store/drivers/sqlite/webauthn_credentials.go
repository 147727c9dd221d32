package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/aussiebroadwan/tabauth/internal/auth/domain"
	"github.com/aussiebroadwan/tabauth/internal/auth/store"
)

type credentialsRepo struct {
	db dbtx
}

const credentialColumns = `id, user_id, public_key, sign_count, transports, device_type, device_name,
	aaguid, attestation_type, backup_eligible, backup_state, created_at, last_used_at`

func scanCredential(row interface{ Scan(...any) error }) (domain.WebAuthnCredential, error) {
	var (
		c          domain.WebAuthnCredential
		transports string
		createdAt  int64
		lastUsed   sql.NullInt64
	)
	err := row.Scan(
		&c.ID, &c.UserID, &c.PublicKey, &c.SignatureCounter, &transports, &c.DeviceType, &c.DeviceName,
		&c.AAGUID, &c.AttestationType, &c.BackupEligible, &c.BackupState, &createdAt, &lastUsed,
	)
	if err != nil {
		return domain.WebAuthnCredential{}, mapNotFound(err)
	}
	if transports != "" {
		c.Transports = strings.Split(transports, ",")
	}
	c.CreatedAt = fromMillis(createdAt)
	c.LastUsedAt = fromNullMillis(lastUsed)
	return c, nil
}

func (r *credentialsRepo) CreateCredential(ctx context.Context, c domain.WebAuthnCredential) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO webauthn_credentials (`+credentialColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.PublicKey, int64(c.SignatureCounter), strings.Join(c.Transports, ","), c.DeviceType, c.DeviceName,
		c.AAGUID, c.AttestationType, boolInt(c.BackupEligible), boolInt(c.BackupState),
		toMillis(c.CreatedAt), toNullMillis(c.LastUsedAt),
	)
	if isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *credentialsRepo) ListCredentials(ctx context.Context, userID string) ([]domain.WebAuthnCredential, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+credentialColumns+` FROM webauthn_credentials WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WebAuthnCredential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *credentialsRepo) GetCredential(ctx context.Context, userID, id string) (domain.WebAuthnCredential, error) {
	return scanCredential(r.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM webauthn_credentials WHERE user_id = ? AND id = ?`, userID, id))
}

func (r *credentialsRepo) UpdateCredentialUse(ctx context.Context, userID, id string, oldCounter, newCounter uint32, backupState bool, usedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE webauthn_credentials SET sign_count = ?, backup_state = ?, last_used_at = ?
		 WHERE user_id = ? AND id = ? AND sign_count = ?`,
		int64(newCounter), boolInt(backupState), toMillis(usedAt), userID, id, int64(oldCounter))
	if err != nil {
		return err
	}
	return requireOne(res, store.ErrConflict)
}

func (r *credentialsRepo) DeleteCredential(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM webauthn_credentials WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return err
	}
	return requireOne(res, store.ErrNotFound)
}

func (r *credentialsRepo) DeleteAllCredentials(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM webauthn_credentials WHERE user_id = ?`, userID)
	return err
}
