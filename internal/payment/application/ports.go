package application

import (
	"context"

	"github.com/dmehra2102/multistore-checkout/internal/payment/domain"
)

type PaymentRepository interface {
	GetByOrder(ctx context.Context, orderID string) (domain.Payment, error)
	// GetForUpdate locks the payment row for the rest of the transaction in ctx.
	GetForUpdate(ctx context.Context, orderID string) (domain.Payment, error)
	// Insert reports false when the order already has a payment.
	Insert(ctx context.Context, p domain.Payment) (bool, error)
	Update(ctx context.Context, p domain.Payment) error
}

// Gateway is the charge/refund contract checkout depends on. Both the
// in-process Service and the HTTP client implement it.
type Gateway interface {
	Charge(ctx context.Context, req domain.ChargeRequest) (domain.ChargeResult, error)
	Refund(ctx context.Context, req domain.RefundRequest) (domain.RefundResult, error)
}
