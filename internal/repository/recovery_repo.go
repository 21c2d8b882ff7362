package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"lodging/internal/db"
)

type RecoveryCodeRepository struct {
	DB *sql.DB
}

func NewRecoveryCodeRepository(db *sql.DB) *RecoveryCodeRepository {
	return &RecoveryCodeRepository{DB: db}
}

// Insert persists the code hash only.
func (r *RecoveryCodeRepository) Insert(ctx context.Context, c *db.RecoveryCode) error {
	const q = `
INSERT INTO recovery_codes (id, user_id, code_hash, created_at, expires_at, used)
VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.DB.ExecContext(ctx, q, c.ID, c.UserID, c.CodeHash, c.CreatedAt, c.ExpiresAt, c.Used)
	if err != nil {
		return fmt.Errorf("error inserting recovery code for user %d: %w", c.UserID, err)
	}
	return nil
}

func (r *RecoveryCodeRepository) ListByUser(ctx context.Context, userID int64) ([]db.RecoveryCode, error) {
	const q = `
SELECT id, user_id, code_hash, created_at, expires_at, used
FROM recovery_codes WHERE user_id = $1
ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []db.RecoveryCode
	for rows.Next() {
		var c db.RecoveryCode
		if err := rows.Scan(&c.ID, &c.UserID, &c.CodeHash, &c.CreatedAt, &c.ExpiresAt, &c.Used); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		c.ExpiresAt = c.ExpiresAt.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *RecoveryCodeRepository) MarkUsed(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE recovery_codes SET used = TRUE WHERE id = $1 AND used = FALSE`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RecoveryCodeRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM recovery_codes WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
