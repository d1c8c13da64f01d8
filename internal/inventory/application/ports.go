package application

import (
	"context"

	"github.com/dmehra2102/multistore-checkout/internal/inventory/domain"
)

type StockRepository interface {
	Get(ctx context.Context, key domain.Key) (domain.Record, error)
	// Reserve increments reserved_quantity only if enough stock is left.
	// It returns ok=false and the current record when it is not.
	Reserve(ctx context.Context, key domain.Key, qty int) (rec domain.Record, ok bool, err error)
	// Release decrements reserved_quantity floored at zero and reports how
	// many units could not be released.
	Release(ctx context.Context, key domain.Key, qty int) (rec domain.Record, short int, err error)
	// Deduct removes qty from both quantity_available and reserved_quantity.
	Deduct(ctx context.Context, key domain.Key, qty int) (domain.Record, error)
	Upsert(ctx context.Context, rec domain.Record) (domain.Record, error)
	ListLow(ctx context.Context, storeID string) ([]domain.Record, error)
}
