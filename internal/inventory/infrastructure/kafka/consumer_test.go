package kafka

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/multistore-checkout/internal/inventory/application"
	"github.com/dmehra2102/multistore-checkout/internal/inventory/domain"
	"github.com/dmehra2102/multistore-checkout/internal/inventory/infrastructure/memory"
	orderdom "github.com/dmehra2102/multistore-checkout/internal/order/domain"
	"github.com/dmehra2102/multistore-checkout/pkg/logging"
	"github.com/dmehra2102/multistore-checkout/pkg/outbox"
)

type seenSet map[string]bool

func (s seenSet) EventKey(id string) string { return "event:" + id }

func (s seenSet) Seen(ctx context.Context, key string) (bool, error) {
	dup := s[key]
	s[key] = true
	return dup, nil
}

func message(t *testing.T, eventType, eventID string, payload any) kafka.Message {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	return kafka.Message{
		Value: b,
		Headers: []kafka.Header{
			{Key: outbox.HeaderEventType, Value: []byte(eventType)},
			{Key: outbox.HeaderEventID, Value: []byte(eventID)},
		},
	}
}

func TestLowStockMonitor(t *testing.T) {
	reorder := 3
	ledger := application.NewLedger(logging.Discard(), memory.NewRepository(
		domain.Record{StoreID: "s1", ProductID: "p1", QuantityAvailable: 4, ReservedQuantity: 2, IsAvailable: true, ReorderLevel: &reorder},
		domain.Record{StoreID: "s1", ProductID: "p2", QuantityAvailable: 40, IsAvailable: true, ReorderLevel: &reorder},
	), nil)
	alerts := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "low_stock_alerts_total"}, []string{"store_id"})
	m := NewLowStockMonitor(logging.Discard(), nil, ledger, seenSet{}, alerts)
	ctx := context.Background()

	confirmed := orderdom.OrderConfirmed{
		OrderID: "o1",
		StoreID: "s1",
		Items:   []orderdom.EventLine{{ProductID: "p1", Quantity: 2}, {ProductID: "p2", Quantity: 1}, {ProductID: "gone", Quantity: 1}},
	}

	low := m.Handle(ctx, message(t, orderdom.EventConfirmed, "e1", confirmed))
	require.Len(t, low, 1)
	assert.Equal(t, "p1", low[0].ProductID)
	assert.Equal(t, 1.0, testutil.ToFloat64(alerts.WithLabelValues("s1")))

	assert.Empty(t, m.Handle(ctx, message(t, orderdom.EventConfirmed, "e1", confirmed)), "redelivery")
	assert.Empty(t, m.Handle(ctx, message(t, orderdom.EventCancelled, "e2", confirmed)))
	assert.Empty(t, m.Handle(ctx, kafka.Message{Value: []byte("{"), Headers: []kafka.Header{{Key: outbox.HeaderEventType, Value: []byte(orderdom.EventConfirmed)}}}))
	assert.Equal(t, 1.0, testutil.ToFloat64(alerts.WithLabelValues("s1")))
}
