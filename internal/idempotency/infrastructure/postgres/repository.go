package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dmehra2102/multistore-checkout/internal/idempotency/domain"
	"github.com/dmehra2102/multistore-checkout/pkg/pgtx"
)

type Repository struct {
	log *slog.Logger
	db  pgtx.Querier
}

func NewRepository(log *slog.Logger, db pgtx.Querier) *Repository {
	return &Repository{log: log, db: db}
}

func (r *Repository) Insert(ctx context.Context, rec domain.Record) (bool, error) {
	ct, err := pgtx.Conn(ctx, r.db).Exec(ctx, `
		INSERT INTO idempotency_keys (key, user_id, attempt_id, fingerprint, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (key, user_id) DO NOTHING`,
		rec.Key, rec.UserID, rec.AttemptID, rec.Fingerprint, rec.Status, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repository) GetForUpdate(ctx context.Context, key, userID string) (domain.Record, error) {
	var rec domain.Record
	err := pgtx.Conn(ctx, r.db).QueryRow(ctx, `
		SELECT key, user_id, attempt_id, fingerprint, status, response, COALESCE(error_kind, ''), COALESCE(error_message, ''), created_at, updated_at
		FROM idempotency_keys
		WHERE key=$1 AND user_id=$2
		FOR UPDATE`, key, userID).
		Scan(&rec.Key, &rec.UserID, &rec.AttemptID, &rec.Fingerprint, &rec.Status, &rec.Response, &rec.ErrorKind, &rec.ErrorMessage, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Record{}, domain.ErrNotFound
	}
	return rec, err
}

func (r *Repository) Rearm(ctx context.Context, prev domain.Record, attemptID, fingerprint string, now time.Time) (bool, error) {
	ct, err := pgtx.Conn(ctx, r.db).Exec(ctx, `
		UPDATE idempotency_keys
		SET status='in_progress', attempt_id=$3, fingerprint=$4, response=NULL, error_kind=NULL, error_message=NULL, updated_at=$5
		WHERE key=$1 AND user_id=$2 AND status=$6 AND attempt_id=$7`,
		prev.Key, prev.UserID, attemptID, fingerprint, now, prev.Status, prev.AttemptID)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// Complete stores response as raw bytes so a replay returns exactly what the
// first attempt answered.
func (r *Repository) Complete(ctx context.Context, key, userID, attemptID string, response json.RawMessage, now time.Time) error {
	ct, err := pgtx.Conn(ctx, r.db).Exec(ctx, `
		UPDATE idempotency_keys SET status='completed', response=$4, updated_at=$5
		WHERE key=$1 AND user_id=$2 AND attempt_id=$3 AND status='in_progress'`,
		key, userID, attemptID, []byte(response), now)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotHeld
	}
	return nil
}

func (r *Repository) Fail(ctx context.Context, key, userID, attemptID, kind, message string, now time.Time) error {
	ct, err := pgtx.Conn(ctx, r.db).Exec(ctx, `
		UPDATE idempotency_keys SET status='failed', error_kind=$4, error_message=$5, updated_at=$6
		WHERE key=$1 AND user_id=$2 AND attempt_id=$3 AND status='in_progress'`,
		key, userID, attemptID, kind, message, now)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotHeld
	}
	return nil
}

func (r *Repository) PurgeUnfinished(ctx context.Context, before time.Time) (int64, error) {
	ct, err := pgtx.Conn(ctx, r.db).Exec(ctx, `
		DELETE FROM idempotency_keys WHERE status <> 'completed' AND updated_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
