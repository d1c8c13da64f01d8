package application

import (
	"context"
	"time"

	invdomain "github.com/dmehra2102/multistore-checkout/internal/inventory/domain"
	"github.com/dmehra2102/multistore-checkout/internal/reservation/domain"
)

type Repository interface {
	Insert(ctx context.Context, r domain.Reservation) error
	Get(ctx context.Context, id string) (domain.Reservation, error)
	// Transition moves a reservation from reserved to status. It returns
	// domain.ErrNotActive when the row is not reserved any more.
	Transition(ctx context.Context, id string, to domain.Status, now time.Time) (domain.Reservation, error)
	// MarkUsed flips every id from reserved to used. It applies all or none.
	MarkUsed(ctx context.Context, ids []string, orderID string, now time.Time) error
	// ClaimExpired moves up to limit overdue reserved rows to expired, skipping
	// rows locked by concurrent sweepers, and returns them.
	ClaimExpired(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error)
	// ListForOrder returns reservations of the order (by order id or attempt id)
	// in the given status, locking them for the current transaction.
	ListForOrder(ctx context.Context, orderID string, status domain.Status) ([]domain.Reservation, error)
	// MarkSettled stamps settled_at once; it returns false if already settled.
	MarkSettled(ctx context.Context, id string, now time.Time) (bool, error)
	PurgeTerminal(ctx context.Context, before time.Time) (int64, error)
}

type Ledger interface {
	Reserve(ctx context.Context, key invdomain.Key, qty int) (invdomain.Record, error)
	Release(ctx context.Context, key invdomain.Key, qty int) (invdomain.Record, error)
	Deduct(ctx context.Context, key invdomain.Key, qty int) (invdomain.Record, error)
}
