package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/dmehra2102/multistore-checkout/internal/order/domain"
	"github.com/dmehra2102/multistore-checkout/pkg/pgtx"
)

const orderNumberConstraint = "orders_order_number_key"

const orderColumns = `id, order_number, user_id, store_id, status, payment_status, payment_method,
	COALESCE(transaction_id, ''), delivery_type, delivery_address, COALESCE(special_instructions, ''),
	subtotal, tax, delivery_fee, discount, total, COALESCE(cancel_reason, ''), created_at, updated_at`

const itemColumns = `id, order_id, product_id, product_name, quantity, unit_price, line_total, status`

type Repository struct {
	log *slog.Logger
	db  pgtx.Querier
}

func NewRepository(log *slog.Logger, db pgtx.Querier) *Repository {
	return &Repository{log: log, db: db}
}

func (r *Repository) Insert(ctx context.Context, o domain.Order) error {
	q := pgtx.Conn(ctx, r.db)
	_, err := q.Exec(ctx, `INSERT INTO orders (`+insertColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NULLIF($8, ''),$9,$10,NULLIF($11, ''),$12,$13,$14,$15,$16,NULLIF($17, ''),$18,$19)`,
		o.ID, o.OrderNumber, o.UserID, o.StoreID, o.Status, o.PaymentStatus, o.PaymentMethod,
		o.TransactionID, o.DeliveryType, o.DeliveryAddress, o.SpecialInstructions,
		o.Subtotal, o.Tax, o.DeliveryFee, o.Discount, o.Total, o.CancelReason, o.CreatedAt, o.UpdatedAt)
	if pgtx.IsUniqueViolation(err, orderNumberConstraint) {
		return domain.ErrDuplicateNumber
	}
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, it := range o.Items {
		batch.Queue(`INSERT INTO order_items (`+itemColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			it.ID, o.ID, it.ProductID, it.ProductName, it.Quantity, it.UnitPrice, it.LineTotal, it.Status)
	}
	return q.SendBatch(ctx, batch).Close()
}

const insertColumns = `id, order_number, user_id, store_id, status, payment_status, payment_method,
	transaction_id, delivery_type, delivery_address, special_instructions,
	subtotal, tax, delivery_fee, discount, total, cancel_reason, created_at, updated_at`

func (r *Repository) Get(ctx context.Context, id string) (domain.Order, error) {
	return r.get(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
}

func (r *Repository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.get(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id)
}

func (r *Repository) get(ctx context.Context, query, id string) (domain.Order, error) {
	q := pgtx.Conn(ctx, r.db)
	o, err := scanOrder(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}

	items, err := r.items(ctx, []string{id})
	if err != nil {
		return domain.Order{}, err
	}
	o.Items = items[id]
	return o, nil
}

func (r *Repository) Update(ctx context.Context, o domain.Order) error {
	q := pgtx.Conn(ctx, r.db)
	ct, err := q.Exec(ctx, `
		UPDATE orders
		SET status=$2, payment_status=$3, transaction_id=NULLIF($4, ''), cancel_reason=NULLIF($5, ''), updated_at=$6
		WHERE id=$1`,
		o.ID, o.Status, o.PaymentStatus, o.TransactionID, o.CancelReason, o.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	_, err = q.Exec(ctx, `UPDATE order_items SET status=$2 WHERE order_id=$1`, o.ID, o.Status)
	return err
}

func (r *Repository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	rows, err := pgtx.Conn(ctx, r.db).Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE user_id=$1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		orders []domain.Order
		ids    []string
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil
	}

	items, err := r.items(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

func (r *Repository) items(ctx context.Context, orderIDs []string) (map[string][]domain.Item, error) {
	rows, err := pgtx.Conn(ctx, r.db).Query(ctx, `
		SELECT `+itemColumns+` FROM order_items WHERE order_id = ANY($1) ORDER BY product_id`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]domain.Item, len(orderIDs))
	for rows.Next() {
		var it domain.Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Quantity,
			&it.UnitPrice, &it.LineTotal, &it.Status); err != nil {
			return nil, err
		}
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.OrderNumber, &o.UserID, &o.StoreID, &o.Status, &o.PaymentStatus, &o.PaymentMethod,
		&o.TransactionID, &o.DeliveryType, &o.DeliveryAddress, &o.SpecialInstructions,
		&o.Subtotal, &o.Tax, &o.DeliveryFee, &o.Discount, &o.Total, &o.CancelReason, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}
