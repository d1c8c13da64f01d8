package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/dmehra2102/multistore-checkout/internal/payment/domain"
	"github.com/dmehra2102/multistore-checkout/pkg/pgtx"
)

const columns = `id, order_id, user_id, amount, method, status, transaction_id,
	COALESCE(decline_reason, ''), COALESCE(refund_id, ''), created_at, updated_at`

type Repository struct {
	log *slog.Logger
	db  pgtx.Querier
}

func NewRepository(log *slog.Logger, db pgtx.Querier) *Repository {
	return &Repository{log: log, db: db}
}

func (r *Repository) GetByOrder(ctx context.Context, orderID string) (domain.Payment, error) {
	return r.get(ctx, `SELECT `+columns+` FROM payments WHERE order_id=$1`, orderID)
}

func (r *Repository) GetForUpdate(ctx context.Context, orderID string) (domain.Payment, error) {
	return r.get(ctx, `SELECT `+columns+` FROM payments WHERE order_id=$1 FOR UPDATE`, orderID)
}

func (r *Repository) get(ctx context.Context, query, orderID string) (domain.Payment, error) {
	var p domain.Payment
	err := pgtx.Conn(ctx, r.db).QueryRow(ctx, query, orderID).
		Scan(&p.ID, &p.OrderID, &p.UserID, &p.Amount, &p.Method, &p.Status, &p.TransactionID,
			&p.DeclineReason, &p.RefundID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Payment{}, domain.ErrNotFound
	}
	return p, err
}

func (r *Repository) Insert(ctx context.Context, p domain.Payment) (bool, error) {
	ct, err := pgtx.Conn(ctx, r.db).Exec(ctx, `
		INSERT INTO payments (id, order_id, user_id, amount, method, status, transaction_id, decline_reason, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NULLIF($8, ''),$9,$10)
		ON CONFLICT (order_id) DO NOTHING`,
		p.ID, p.OrderID, p.UserID, p.Amount, p.Method, p.Status, p.TransactionID, p.DeclineReason, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repository) Update(ctx context.Context, p domain.Payment) error {
	ct, err := pgtx.Conn(ctx, r.db).Exec(ctx, `
		UPDATE payments SET status=$2, refund_id=NULLIF($3, ''), updated_at=$4 WHERE order_id=$1`,
		p.OrderID, p.Status, p.RefundID, p.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
