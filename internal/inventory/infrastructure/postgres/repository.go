package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/dmehra2102/multistore-checkout/internal/inventory/domain"
	"github.com/dmehra2102/multistore-checkout/pkg/pgtx"
)

const recordColumns = `store_id, product_id, quantity_available, reserved_quantity, is_available, reorder_level, updated_at`

type Repository struct {
	log *slog.Logger
	db  pgtx.Querier
}

func NewRepository(log *slog.Logger, db pgtx.Querier) *Repository {
	return &Repository{
		log: log,
		db:  db,
	}
}

func scanRecord(row pgx.Row) (domain.Record, error) {
	var rec domain.Record
	err := row.Scan(&rec.StoreID, &rec.ProductID, &rec.QuantityAvailable, &rec.ReservedQuantity,
		&rec.IsAvailable, &rec.ReorderLevel, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Record{}, domain.ErrNotFound
	}
	return rec, err
}

func (r *Repository) Get(ctx context.Context, key domain.Key) (domain.Record, error) {
	return scanRecord(pgtx.Conn(ctx, r.db).QueryRow(ctx,
		`SELECT `+recordColumns+` FROM inventory_records WHERE store_id=$1 AND product_id=$2`,
		key.StoreID, key.ProductID))
}

// Reserve is a single conditional update; concurrent reservations on the same
// row serialize on its row lock and re-check the predicate.
func (r *Repository) Reserve(ctx context.Context, key domain.Key, qty int) (domain.Record, bool, error) {
	rec, err := scanRecord(pgtx.Conn(ctx, r.db).QueryRow(ctx, `
		UPDATE inventory_records
		SET reserved_quantity = reserved_quantity + $3, updated_at = now()
		WHERE store_id = $1 AND product_id = $2
		  AND is_available
		  AND quantity_available - reserved_quantity >= $3
		RETURNING `+recordColumns,
		key.StoreID, key.ProductID, qty))
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Record{}, false, err
	}

	current, err := r.Get(ctx, key)
	if err != nil {
		return domain.Record{}, false, err
	}
	return current, false, nil
}

func (r *Repository) Release(ctx context.Context, key domain.Key, qty int) (domain.Record, int, error) {
	var (
		rec  domain.Record
		prev int
	)
	err := pgtx.Conn(ctx, r.db).QueryRow(ctx, `
		WITH prev AS (
			SELECT reserved_quantity FROM inventory_records
			WHERE store_id = $1 AND product_id = $2
			FOR UPDATE
		)
		UPDATE inventory_records AS ir
		SET reserved_quantity = GREATEST(ir.reserved_quantity - $3, 0), updated_at = now()
		FROM prev
		WHERE ir.store_id = $1 AND ir.product_id = $2
		RETURNING ir.store_id, ir.product_id, ir.quantity_available, ir.reserved_quantity,
		          ir.is_available, ir.reorder_level, ir.updated_at, prev.reserved_quantity`,
		key.StoreID, key.ProductID, qty).
		Scan(&rec.StoreID, &rec.ProductID, &rec.QuantityAvailable, &rec.ReservedQuantity,
			&rec.IsAvailable, &rec.ReorderLevel, &rec.UpdatedAt, &prev)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Record{}, 0, domain.ErrNotFound
	}
	if err != nil {
		return domain.Record{}, 0, err
	}

	short := 0
	if qty > prev {
		short = qty - prev
	}
	return rec, short, nil
}

func (r *Repository) Deduct(ctx context.Context, key domain.Key, qty int) (domain.Record, error) {
	rec, err := scanRecord(pgtx.Conn(ctx, r.db).QueryRow(ctx, `
		UPDATE inventory_records
		SET quantity_available = quantity_available - $3,
		    reserved_quantity = reserved_quantity - $3,
		    updated_at = now()
		WHERE store_id = $1 AND product_id = $2 AND reserved_quantity >= $3
		RETURNING `+recordColumns,
		key.StoreID, key.ProductID, qty))
	if !errors.Is(err, domain.ErrNotFound) {
		return rec, err
	}
	if _, err := r.Get(ctx, key); err != nil {
		return domain.Record{}, err
	}
	return domain.Record{}, domain.ErrDeductExceedsHold
}

func (r *Repository) Upsert(ctx context.Context, rec domain.Record) (domain.Record, error) {
	out, err := scanRecord(pgtx.Conn(ctx, r.db).QueryRow(ctx, `
		INSERT INTO inventory_records (store_id, product_id, quantity_available, reserved_quantity, is_available, reorder_level, updated_at)
		VALUES ($1, $2, $3, 0, $4, $5, now())
		ON CONFLICT (store_id, product_id) DO UPDATE
		SET quantity_available = EXCLUDED.quantity_available,
		    is_available = EXCLUDED.is_available,
		    reorder_level = EXCLUDED.reorder_level,
		    updated_at = now()
		WHERE inventory_records.reserved_quantity <= EXCLUDED.quantity_available
		RETURNING `+recordColumns,
		rec.StoreID, rec.ProductID, rec.QuantityAvailable, rec.IsAvailable, rec.ReorderLevel))
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Record{}, domain.ErrBelowReserved
	}
	return out, err
}

func (r *Repository) ListLow(ctx context.Context, storeID string) ([]domain.Record, error) {
	rows, err := pgtx.Conn(ctx, r.db).Query(ctx, `
		SELECT `+recordColumns+`
		FROM inventory_records
		WHERE store_id = $1
		  AND reorder_level IS NOT NULL
		  AND quantity_available - reserved_quantity <= reorder_level
		ORDER BY product_id`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
