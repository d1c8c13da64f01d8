package application

import (
	"context"

	"github.com/dmehra2102/multistore-checkout/internal/order/domain"
)

type OrderRepository interface {
	// Insert stores the order with its items. A taken order number is
	// reported as domain.ErrDuplicateNumber.
	Insert(ctx context.Context, o domain.Order) error
	Get(ctx context.Context, id string) (domain.Order, error)
	// GetForUpdate locks the order row for the rest of the transaction in ctx.
	GetForUpdate(ctx context.Context, id string) (domain.Order, error)
	// Update persists status fields of the order and its items.
	Update(ctx context.Context, o domain.Order) error
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error)
}
