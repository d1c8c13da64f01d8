package application

import (
	"context"
	"encoding/json"

	idemdomain "github.com/dmehra2102/multistore-checkout/internal/idempotency/domain"
	invdomain "github.com/dmehra2102/multistore-checkout/internal/inventory/domain"
	orderdomain "github.com/dmehra2102/multistore-checkout/internal/order/domain"
	resdomain "github.com/dmehra2102/multistore-checkout/internal/reservation/domain"
)

type Idempotency interface {
	Claim(ctx context.Context, key, userID, fingerprint string) (idemdomain.Decision, error)
	Complete(ctx context.Context, key, userID, attempt string, response json.RawMessage) error
	Fail(ctx context.Context, key, userID, attempt, kind, message string) error
}

// StockChecker answers availability without holding anything. The local
// ledger and the inventory gRPC client both satisfy it.
type StockChecker interface {
	CheckStock(ctx context.Context, storeID string, lines []invdomain.Line) ([]invdomain.Shortage, error)
}

type Reservations interface {
	Reserve(ctx context.Context, h resdomain.Hold) (resdomain.Reservation, error)
	MarkUsed(ctx context.Context, ids []string, orderID string) error
	ReleaseAll(ctx context.Context, ids []string) error
	ReleaseForOrder(ctx context.Context, orderID string) (int, error)
	SettleForOrder(ctx context.Context, orderID string, outcome resdomain.Outcome) (int, error)
}

type Orders interface {
	Place(ctx context.Context, o orderdomain.Order) (orderdomain.Order, error)
	Confirm(ctx context.Context, id, transactionID string) (orderdomain.Order, error)
	MarkPaymentFailed(ctx context.Context, id, reason string) (orderdomain.Order, error)
	Cancel(ctx context.Context, id, reason string) (orderdomain.Order, error)
	SetStatus(ctx context.Context, id string, to orderdomain.Status) (orderdomain.Order, error)
	MarkRefunded(ctx context.Context, id string) (orderdomain.Order, error)
	Get(ctx context.Context, id string) (orderdomain.Order, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]orderdomain.Order, error)
}

type ProductNames interface {
	Resolve(ctx context.Context, productID string) string
}
