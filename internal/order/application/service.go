package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmehra2102/multistore-checkout/internal/order/domain"
	"github.com/dmehra2102/multistore-checkout/pkg/outbox"
	"github.com/dmehra2102/multistore-checkout/pkg/pgtx"
)

const (
	aggregateType = "order"
	// MaxNumberAttempts bounds order number generation on collisions.
	MaxNumberAttempts = 5
	DefaultListLimit  = 50
)

type Service struct {
	log    *slog.Logger
	repo   OrderRepository
	tx     pgtx.Runner
	events outbox.Appender
	number func(time.Time) string
	now    func() time.Time
}

type Option func(*Service)

func WithNumberGenerator(fn func(time.Time) string) Option {
	return func(s *Service) { s.number = fn }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(log *slog.Logger, repo OrderRepository, tx pgtx.Runner, events outbox.Appender, opts ...Option) *Service {
	s := &Service{
		log:    log,
		repo:   repo,
		tx:     tx,
		events: events,
		number: domain.NewNumber,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Place persists o as pending with payment pending and a fresh order number.
// Every attempt runs in its own transaction since a unique violation aborts
// the transaction it happens in.
func (s *Service) Place(ctx context.Context, o domain.Order) (domain.Order, error) {
	now := s.now()
	o.PaymentStatus = domain.PaymentPending
	o.CreatedAt = now
	o.SetStatus(domain.StatusPending, now)
	for i := range o.Items {
		o.Items[i].OrderID = o.ID
	}

	for attempt := 1; attempt <= MaxNumberAttempts; attempt++ {
		o.OrderNumber = s.number(now)
		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			return s.repo.Insert(ctx, o)
		})
		if err == nil {
			s.log.Info("order placed", "order_id", o.ID, "order_number", o.OrderNumber, "store_id", o.StoreID)
			return o, nil
		}
		if !errors.Is(err, domain.ErrDuplicateNumber) {
			return domain.Order{}, fmt.Errorf("place order %s: %w", o.ID, err)
		}
		s.log.Warn("order number collision", "order_id", o.ID, "order_number", o.OrderNumber, "attempt", attempt)
	}
	return domain.Order{}, domain.ErrNumberExhausted
}

// Confirm records a captured payment: pending/payment pending becomes
// confirmed/paid and order.confirmed is emitted.
func (s *Service) Confirm(ctx context.Context, id, transactionID string) (domain.Order, error) {
	return s.mutate(ctx, id, func(o *domain.Order) (domain.Event, error) {
		if err := domain.CheckTransition(o.Status, domain.StatusConfirmed); err != nil {
			return nil, err
		}
		o.SetStatus(domain.StatusConfirmed, s.now())
		o.PaymentStatus = domain.PaymentPaid
		o.TransactionID = transactionID
		return domain.OrderConfirmed{
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			UserID:      o.UserID,
			StoreID:     o.StoreID,
			Total:       o.Total,
			Items:       domain.Lines(o.Items),
		}, nil
	})
}

// MarkPaymentFailed closes a pending order whose charge did not succeed.
func (s *Service) MarkPaymentFailed(ctx context.Context, id, reason string) (domain.Order, error) {
	return s.mutate(ctx, id, func(o *domain.Order) (domain.Event, error) {
		if err := domain.CheckTransition(o.Status, domain.StatusFailed); err != nil {
			return nil, err
		}
		o.SetStatus(domain.StatusFailed, s.now())
		o.PaymentStatus = domain.PaymentFailed
		o.CancelReason = reason
		return domain.OrderPaymentFailed{OrderID: o.ID, UserID: o.UserID, Reason: reason}, nil
	})
}

// Cancel moves an order to cancelled. A paid order goes to refund_pending
// until the refund is confirmed.
func (s *Service) Cancel(ctx context.Context, id, reason string) (domain.Order, error) {
	return s.mutate(ctx, id, func(o *domain.Order) (domain.Event, error) {
		if err := domain.CheckTransition(o.Status, domain.StatusCancelled); err != nil {
			return nil, err
		}
		o.SetStatus(domain.StatusCancelled, s.now())
		o.CancelReason = reason
		refund := o.PaymentStatus == domain.PaymentPaid
		if refund {
			o.PaymentStatus = domain.PaymentRefundPending
		}
		return domain.OrderCancelled{OrderID: o.ID, StoreID: o.StoreID, Reason: reason, Refund: refund}, nil
	})
}

// SetStatus advances the fulfilment lifecycle. Cancellation goes through
// Cancel and payment outcomes through Confirm and MarkPaymentFailed.
func (s *Service) SetStatus(ctx context.Context, id string, to domain.Status) (domain.Order, error) {
	switch to {
	case domain.StatusPreparing, domain.StatusReady, domain.StatusCompleted:
	default:
		return domain.Order{}, fmt.Errorf("%w: status %q cannot be set directly", domain.ErrInvalidState, to)
	}
	return s.mutate(ctx, id, func(o *domain.Order) (domain.Event, error) {
		from := o.Status
		if err := domain.CheckTransition(from, to); err != nil {
			return nil, err
		}
		o.SetStatus(to, s.now())
		return domain.OrderStatusChanged{OrderID: o.ID, StoreID: o.StoreID, From: from, To: to}, nil
	})
}

// MarkRefunded settles a pending refund. Repeating it is a no-op.
func (s *Service) MarkRefunded(ctx context.Context, id string) (domain.Order, error) {
	return s.mutate(ctx, id, func(o *domain.Order) (domain.Event, error) {
		switch o.PaymentStatus {
		case domain.PaymentRefunded:
			return nil, nil
		case domain.PaymentRefundPending, domain.PaymentPaid:
			o.PaymentStatus = domain.PaymentRefunded
			o.UpdatedAt = s.now()
			return nil, nil
		default:
			return nil, fmt.Errorf("%w: payment is %s", domain.ErrInvalidState, o.PaymentStatus)
		}
	})
}

func (s *Service) Get(ctx context.Context, id string) (domain.Order, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	return s.repo.ListByUser(ctx, userID, limit)
}

// mutate locks the order, applies fn and stores the result together with the
// event fn returns, if any, in one transaction.
func (s *Service) mutate(ctx context.Context, id string, fn func(o *domain.Order) (domain.Event, error)) (domain.Order, error) {
	var out domain.Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		o, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		prevStatus, prevPayment := o.Status, o.PaymentStatus
		ev, err := fn(&o)
		if err != nil {
			return err
		}
		if o.Status == prevStatus && o.PaymentStatus == prevPayment {
			out = o
			return nil
		}
		if err := s.repo.Update(ctx, o); err != nil {
			return err
		}
		if ev != nil {
			e, err := outbox.NewEvent(ctx, aggregateType, o.ID, ev.Type(), ev)
			if err != nil {
				return err
			}
			e.Headers["source"] = "checkout-service"
			if err := s.events.Append(ctx, e); err != nil {
				return err
			}
		}
		out = o
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return out, nil
}
