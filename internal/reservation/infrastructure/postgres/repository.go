package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dmehra2102/multistore-checkout/internal/reservation/domain"
	"github.com/dmehra2102/multistore-checkout/pkg/pgtx"
)

const columns = `id, store_id, product_id, quantity, user_id, attempt_id, COALESCE(order_id, ''), status, expires_at, settled_at, created_at, updated_at`

type Repository struct {
	log *slog.Logger
	db  pgtx.Querier
}

func NewRepository(log *slog.Logger, db pgtx.Querier) *Repository {
	return &Repository{log: log, db: db}
}

func scan(row pgx.Row) (domain.Reservation, error) {
	var r domain.Reservation
	err := row.Scan(&r.ID, &r.StoreID, &r.ProductID, &r.Quantity, &r.UserID, &r.AttemptID, &r.OrderID,
		&r.Status, &r.ExpiresAt, &r.SettledAt, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Reservation{}, domain.ErrNotFound
	}
	return r, err
}

func collect(rows pgx.Rows) ([]domain.Reservation, error) {
	defer rows.Close()
	var out []domain.Reservation
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (r *Repository) Insert(ctx context.Context, res domain.Reservation) error {
	_, err := pgtx.Conn(ctx, r.db).Exec(ctx, `INSERT INTO reservations
		(id, store_id, product_id, quantity, user_id, attempt_id, status, expires_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		res.ID, res.StoreID, res.ProductID, res.Quantity, res.UserID, res.AttemptID, res.Status,
		res.ExpiresAt, res.CreatedAt, res.UpdatedAt)
	return err
}

func (r *Repository) Get(ctx context.Context, id string) (domain.Reservation, error) {
	return scan(pgtx.Conn(ctx, r.db).QueryRow(ctx, `SELECT `+columns+` FROM reservations WHERE id=$1`, id))
}

func (r *Repository) Transition(ctx context.Context, id string, to domain.Status, now time.Time) (domain.Reservation, error) {
	res, err := scan(pgtx.Conn(ctx, r.db).QueryRow(ctx, `
		UPDATE reservations SET status=$2, updated_at=$3
		WHERE id=$1 AND status='reserved'
		RETURNING `+columns, id, to, now))
	if !errors.Is(err, domain.ErrNotFound) {
		return res, err
	}
	if _, err := r.Get(ctx, id); err != nil {
		return domain.Reservation{}, err
	}
	return domain.Reservation{}, domain.ErrNotActive
}

func (r *Repository) MarkUsed(ctx context.Context, ids []string, orderID string, now time.Time) error {
	ct, err := pgtx.Conn(ctx, r.db).Exec(ctx, `
		UPDATE reservations SET status='used', order_id=$2, updated_at=$3
		WHERE id = ANY($1) AND status='reserved'`, ids, orderID, now)
	if err != nil {
		return err
	}
	if n := ct.RowsAffected(); n != int64(len(ids)) {
		// the caller's transaction rolls the partial update back
		return fmt.Errorf("%d of %d holds no longer reserved: %w", int64(len(ids))-n, len(ids), domain.ErrNotActive)
	}
	return nil
}

func (r *Repository) ClaimExpired(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	rows, err := pgtx.Conn(ctx, r.db).Query(ctx, `
		WITH due AS (
			SELECT id FROM reservations
			WHERE status = 'reserved' AND expires_at <= $1
			ORDER BY expires_at
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)
		UPDATE reservations AS r SET status='expired', updated_at=$1
		FROM due
		WHERE r.id = due.id AND r.status = 'reserved'
		RETURNING r.id, r.store_id, r.product_id, r.quantity, r.user_id, r.attempt_id, COALESCE(r.order_id, ''),
		          r.status, r.expires_at, r.settled_at, r.created_at, r.updated_at`, now, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *Repository) ListForOrder(ctx context.Context, orderID string, status domain.Status) ([]domain.Reservation, error) {
	rows, err := pgtx.Conn(ctx, r.db).Query(ctx, `
		SELECT `+columns+` FROM reservations
		WHERE (order_id = $1 OR attempt_id = $1) AND status = $2
		ORDER BY created_at
		FOR UPDATE`, orderID, status)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *Repository) MarkSettled(ctx context.Context, id string, now time.Time) (bool, error) {
	ct, err := pgtx.Conn(ctx, r.db).Exec(ctx, `
		UPDATE reservations SET settled_at=$2, updated_at=$2
		WHERE id=$1 AND status='used' AND settled_at IS NULL`, id, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repository) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	ct, err := pgtx.Conn(ctx, r.db).Exec(ctx, `
		DELETE FROM reservations
		WHERE updated_at < $1
		  AND (status IN ('released', 'expired', 'cancelled') OR (status = 'used' AND settled_at IS NOT NULL))`, before)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
