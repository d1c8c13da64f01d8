package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	invdomain "github.com/dmehra2102/multistore-checkout/internal/inventory/domain"
	"github.com/dmehra2102/multistore-checkout/internal/reservation/domain"
	"github.com/dmehra2102/multistore-checkout/pkg/pgtx"
)

const DefaultTTL = 15 * time.Minute

// Manager owns the reservation lifecycle. Every transition that gives stock
// back releases the ledger in the same transaction as the status change, so a
// hold is returned exactly once.
type Manager struct {
	log    *slog.Logger
	repo   Repository
	ledger Ledger
	tx     pgtx.Runner
	ttl    time.Duration
	now    func() time.Time
	tracer trace.Tracer
}

type Option func(*Manager)

func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(log *slog.Logger, repo Repository, ledger Ledger, tx pgtx.Runner, opts ...Option) *Manager {
	m := &Manager{
		log:    log,
		repo:   repo,
		ledger: ledger,
		tx:     tx,
		ttl:    DefaultTTL,
		now:    func() time.Time { return time.Now().UTC() },
		tracer: otel.Tracer("reservation-manager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) TTL() time.Duration { return m.ttl }

// Reserve holds stock for a checkout attempt. Ledger errors such as
// *invdomain.InsufficientStockError are returned unchanged.
func (m *Manager) Reserve(ctx context.Context, h domain.Hold) (domain.Reservation, error) {
	ctx, span := m.tracer.Start(ctx, "Reservation.Reserve", trace.WithAttributes(
		attribute.String("store_id", h.StoreID),
		attribute.String("product_id", h.ProductID),
	))
	defer span.End()

	now := m.now()
	r := domain.Reservation{
		ID:        uuid.NewString(),
		StoreID:   h.StoreID,
		ProductID: h.ProductID,
		Quantity:  h.Quantity,
		UserID:    h.UserID,
		AttemptID: h.AttemptID,
		Status:    domain.StatusReserved,
		ExpiresAt: now.Add(m.ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := m.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := m.ledger.Reserve(ctx, invdomain.Key{StoreID: h.StoreID, ProductID: h.ProductID}, h.Quantity); err != nil {
			return err
		}
		return m.repo.Insert(ctx, r)
	})
	if err != nil {
		return domain.Reservation{}, err
	}
	return r, nil
}

func (m *Manager) Get(ctx context.Context, id string) (domain.Reservation, error) {
	return m.repo.Get(ctx, id)
}

// MarkUsed commits the holds to an order. Expiry is not re-checked here: a
// hold the sweeper has not reached yet is still valid.
func (m *Manager) MarkUsed(ctx context.Context, ids []string, orderID string) error {
	if len(ids) == 0 {
		return nil
	}
	return m.tx.WithinTx(ctx, func(ctx context.Context) error {
		return m.repo.MarkUsed(ctx, ids, orderID, m.now())
	})
}

// Release returns an unused hold.
func (m *Manager) Release(ctx context.Context, id string) error {
	return m.finish(ctx, id, domain.StatusReleased)
}

// Cancel is the explicit user/admin cancellation of an unused hold.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	return m.finish(ctx, id, domain.StatusCancelled)
}

func (m *Manager) finish(ctx context.Context, id string, to domain.Status) error {
	return m.tx.WithinTx(ctx, func(ctx context.Context) error {
		r, err := m.repo.Transition(ctx, id, to, m.now())
		if err != nil {
			return err
		}
		return m.releaseLedger(ctx, r)
	})
}

// ReleaseAll releases every id that is still reserved. Holds the sweeper
// already expired are skipped since their stock is already back.
func (m *Manager) ReleaseAll(ctx context.Context, ids []string) error {
	var errs []error
	for i := len(ids) - 1; i >= 0; i-- {
		err := m.Release(ctx, ids[i])
		if err == nil || errors.Is(err, domain.ErrNotActive) {
			continue
		}
		errs = append(errs, fmt.Errorf("release %s: %w", ids[i], err))
	}
	return errors.Join(errs...)
}

// ReleaseForOrder releases the reserved holds of an order that never got
// to mark them used.
func (m *Manager) ReleaseForOrder(ctx context.Context, orderID string) (int, error) {
	released := 0
	err := m.tx.WithinTx(ctx, func(ctx context.Context) error {
		rs, err := m.repo.ListForOrder(ctx, orderID, domain.StatusReserved)
		if err != nil {
			return err
		}
		for _, r := range rs {
			done, err := m.repo.Transition(ctx, r.ID, domain.StatusReleased, m.now())
			if errors.Is(err, domain.ErrNotActive) {
				continue
			}
			if err != nil {
				return err
			}
			if err := m.releaseLedger(ctx, done); err != nil {
				return err
			}
			released++
		}
		return nil
	})
	return released, err
}

// SettleForOrder resolves the ledger hold still carried by the used
// reservations of an order: fulfilled orders deduct it from stock, cancelled
// ones return it. Each reservation is settled at most once.
func (m *Manager) SettleForOrder(ctx context.Context, orderID string, outcome domain.Outcome) (int, error) {
	settled := 0
	err := m.tx.WithinTx(ctx, func(ctx context.Context) error {
		rs, err := m.repo.ListForOrder(ctx, orderID, domain.StatusUsed)
		if err != nil {
			return err
		}
		for _, r := range rs {
			ok, err := m.repo.MarkSettled(ctx, r.ID, m.now())
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			key := invdomain.Key{StoreID: r.StoreID, ProductID: r.ProductID}
			switch outcome {
			case domain.OutcomeFulfilled:
				_, err = m.ledger.Deduct(ctx, key, r.Quantity)
			case domain.OutcomeCancelled:
				_, err = m.ledger.Release(ctx, key, r.Quantity)
			default:
				err = fmt.Errorf("unknown settle outcome %q", outcome)
			}
			if err != nil {
				return err
			}
			settled++
		}
		return nil
	})
	return settled, err
}

// SweepExpired expires overdue holds in batches until none are left and
// returns how many it released. Used holds are never touched.
func (m *Manager) SweepExpired(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	total := 0
	for {
		n, err := m.sweepBatch(ctx, batchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n < batchSize {
			return total, nil
		}
	}
}

func (m *Manager) sweepBatch(ctx context.Context, batchSize int) (int, error) {
	var n int
	err := m.tx.WithinTx(ctx, func(ctx context.Context) error {
		rs, err := m.repo.ClaimExpired(ctx, m.now(), batchSize)
		if err != nil {
			return err
		}
		for _, r := range rs {
			if err := m.releaseLedger(ctx, r); err != nil {
				return err
			}
		}
		n = len(rs)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// PurgeTerminal deletes terminal reservations last updated before the
// retention cutoff. Used reservations are kept until settled.
func (m *Manager) PurgeTerminal(ctx context.Context, retention time.Duration) (int64, error) {
	return m.repo.PurgeTerminal(ctx, m.now().Add(-retention))
}

func (m *Manager) releaseLedger(ctx context.Context, r domain.Reservation) error {
	if !r.Status.ReleasesStock() {
		return nil
	}
	_, err := m.ledger.Release(ctx, invdomain.Key{StoreID: r.StoreID, ProductID: r.ProductID}, r.Quantity)
	return err
}
