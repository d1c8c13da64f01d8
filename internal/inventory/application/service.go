package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/multistore-checkout/internal/inventory/domain"
	"github.com/dmehra2102/multistore-checkout/pkg/metrics"
)

// Ledger is the inventory ledger: the only place that mutates per-store
// stock counters.
type Ledger struct {
	log     *slog.Logger
	repo    StockRepository
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

func NewLedger(log *slog.Logger, repo StockRepository, m *metrics.Metrics) *Ledger {
	return &Ledger{
		log:     log,
		repo:    repo,
		metrics: m,
		tracer:  otel.Tracer("inventory-ledger"),
	}
}

func (l *Ledger) Get(ctx context.Context, key domain.Key) (domain.Record, error) {
	return l.repo.Get(ctx, key)
}

// Reserve takes qty units out of the sellable stock of key. It fails with
// *domain.InsufficientStockError when fewer than qty units are sellable.
func (l *Ledger) Reserve(ctx context.Context, key domain.Key, qty int) (domain.Record, error) {
	ctx, span := l.tracer.Start(ctx, "Ledger.Reserve", trace.WithAttributes(
		attribute.String("store_id", key.StoreID),
		attribute.String("product_id", key.ProductID),
		attribute.Int("quantity", qty),
	))
	defer span.End()

	if qty <= 0 {
		return domain.Record{}, domain.ErrInvalidQuantity
	}
	rec, ok, err := l.repo.Reserve(ctx, key, qty)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Record{}, &domain.InsufficientStockError{
			StoreID: key.StoreID, ProductID: key.ProductID, Requested: qty, Available: 0,
		}
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("reserve %s: %w", key, err)
	}
	if !ok {
		return rec, &domain.InsufficientStockError{
			StoreID: key.StoreID, ProductID: key.ProductID, Requested: qty, Available: rec.AvailableToSell(),
		}
	}
	return rec, nil
}

// Release gives qty held units back. A release larger than what is held is
// clamped at zero and reported as an invariant violation; it does not fail.
func (l *Ledger) Release(ctx context.Context, key domain.Key, qty int) (domain.Record, error) {
	if qty <= 0 {
		return domain.Record{}, domain.ErrInvalidQuantity
	}
	rec, short, err := l.repo.Release(ctx, key, qty)
	if err != nil {
		return domain.Record{}, fmt.Errorf("release %s: %w", key, err)
	}
	if short > 0 {
		l.log.Error("ledger release underflow clamped",
			"store_id", key.StoreID, "product_id", key.ProductID, "requested", qty, "short", short)
		if l.metrics != nil {
			l.metrics.LedgerViolations.WithLabelValues("release_underflow").Inc()
		}
	}
	return rec, nil
}

// Deduct turns held units into sold units when an order is fulfilled.
func (l *Ledger) Deduct(ctx context.Context, key domain.Key, qty int) (domain.Record, error) {
	if qty <= 0 {
		return domain.Record{}, domain.ErrInvalidQuantity
	}
	rec, err := l.repo.Deduct(ctx, key, qty)
	if errors.Is(err, domain.ErrDeductExceedsHold) {
		l.log.Error("ledger deduction exceeds hold", "store_id", key.StoreID, "product_id", key.ProductID, "quantity", qty)
		if l.metrics != nil {
			l.metrics.LedgerViolations.WithLabelValues("deduct_exceeds_hold").Inc()
		}
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("deduct %s: %w", key, err)
	}
	return rec, nil
}

// SetStock creates or restocks a record. Quantity may not drop below what is
// currently reserved.
func (l *Ledger) SetStock(ctx context.Context, rec domain.Record) (domain.Record, error) {
	if rec.StoreID == "" || rec.ProductID == "" {
		return domain.Record{}, fmt.Errorf("store and product are required: %w", domain.ErrInvalidQuantity)
	}
	if rec.QuantityAvailable < 0 {
		return domain.Record{}, domain.ErrInvalidQuantity
	}
	return l.repo.Upsert(ctx, rec)
}

func (l *Ledger) LowStock(ctx context.Context, storeID string) ([]domain.Record, error) {
	return l.repo.ListLow(ctx, storeID)
}

// CheckStock reports lines that cannot be covered by sellable stock right now.
// It reserves nothing.
func (l *Ledger) CheckStock(ctx context.Context, storeID string, lines []domain.Line) ([]domain.Shortage, error) {
	var shortages []domain.Shortage
	for _, line := range lines {
		rec, err := l.repo.Get(ctx, domain.Key{StoreID: storeID, ProductID: line.ProductID})
		if errors.Is(err, domain.ErrNotFound) {
			shortages = append(shortages, domain.Shortage{ProductID: line.ProductID, Requested: line.Quantity})
			continue
		}
		if err != nil {
			return nil, err
		}
		if avail := rec.AvailableToSell(); avail < line.Quantity {
			shortages = append(shortages, domain.Shortage{ProductID: line.ProductID, Requested: line.Quantity, Available: avail})
		}
	}
	return shortages, nil
}
