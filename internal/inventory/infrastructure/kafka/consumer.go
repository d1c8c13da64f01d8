package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/multistore-checkout/internal/inventory/domain"
	orderdom "github.com/dmehra2102/multistore-checkout/internal/order/domain"
	"github.com/dmehra2102/multistore-checkout/pkg/outbox"
	"github.com/dmehra2102/multistore-checkout/pkg/tracing"
)

type StockReader interface {
	Get(ctx context.Context, key domain.Key) (domain.Record, error)
}

// Deduper is satisfied by *dedup.Store.
type Deduper interface {
	EventKey(eventID string) string
	Seen(ctx context.Context, key string) (bool, error)
}

type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// LowStockMonitor watches confirmed orders and reports the products of the
// store that fell to or below their reorder level.
type LowStockMonitor struct {
	log    *slog.Logger
	reader Reader
	stock  StockReader
	seen   Deduper
	alerts *prometheus.CounterVec
	tracer trace.Tracer
}

// NewLowStockMonitor builds the monitor. seen and alerts may be nil.
func NewLowStockMonitor(log *slog.Logger, reader Reader, stock StockReader, seen Deduper, alerts *prometheus.CounterVec) *LowStockMonitor {
	return &LowStockMonitor{
		log:    log,
		reader: reader,
		stock:  stock,
		seen:   seen,
		alerts: alerts,
		tracer: otel.Tracer("inventory-consumer"),
	}
}

func (m *LowStockMonitor) Run(ctx context.Context) error {
	defer m.reader.Close()
	for {
		msg, err := m.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		m.Handle(ctx, msg)
		if err := m.reader.CommitMessages(ctx, msg); err != nil {
			m.log.Error("commit failed", "offset", msg.Offset, "err", err)
		}
	}
}

// Handle returns the products found low on stock for one message.
func (m *LowStockMonitor) Handle(ctx context.Context, msg kafka.Message) []domain.Record {
	if tracing.HeaderValue(msg.Headers, outbox.HeaderEventType) != orderdom.EventConfirmed {
		return nil
	}
	if id := tracing.HeaderValue(msg.Headers, outbox.HeaderEventID); id != "" && m.seen != nil {
		dup, err := m.seen.Seen(ctx, m.seen.EventKey(id))
		if err != nil {
			m.log.Warn("dedup check failed", "event_id", id, "err", err)
		}
		if dup {
			return nil
		}
	}

	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := m.tracer.Start(msgCtx, "ConsumeOrderConfirmed")
	defer span.End()

	var ev orderdom.OrderConfirmed
	if err := json.Unmarshal(msg.Value, &ev); err != nil || ev.StoreID == "" {
		m.log.Error("invalid order.confirmed dropped", "offset", msg.Offset, "err", err)
		return nil
	}
	span.SetAttributes(attribute.String("order_id", ev.OrderID), attribute.String("store_id", ev.StoreID))

	var low []domain.Record
	for _, line := range ev.Items {
		rec, err := m.stock.Get(msgCtx, domain.Key{StoreID: ev.StoreID, ProductID: line.ProductID})
		if err != nil {
			m.log.Warn("stock lookup failed", "store_id", ev.StoreID, "product_id", line.ProductID, "err", err)
			continue
		}
		if !rec.LowStock() {
			continue
		}
		low = append(low, rec)
		m.log.Warn("product low on stock",
			"store_id", rec.StoreID, "product_id", rec.ProductID,
			"available_to_sell", rec.AvailableToSell(), "reorder_level", *rec.ReorderLevel,
			"order_id", ev.OrderID)
		if m.alerts != nil {
			m.alerts.WithLabelValues(rec.StoreID).Inc()
		}
	}
	return low
}
