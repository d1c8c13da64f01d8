package outbox

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/dmehra2102/multistore-checkout/pkg/pgtx"
	"github.com/dmehra2102/multistore-checkout/pkg/tracing"
)

// Appender records an event next to the state change that produced it.
type Appender interface {
	Append(ctx context.Context, e Event) error
}

// NewEvent builds a pending event with a JSON payload, stamped with the
// trace of ctx.
func NewEvent(ctx context.Context, aggregateType, aggregateID, eventType string, payload any) (Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		EventID:       uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Type:          eventType,
		Payload:       b,
		Headers:       map[string]string{},
		Traceparent:   tracing.Traceparent(ctx),
		Status:        StatusPending,
	}, nil
}

type PGAppender struct {
	db pgtx.Querier
}

func NewPGAppender(db pgtx.Querier) *PGAppender {
	return &PGAppender{db: db}
}

func (a *PGAppender) Append(ctx context.Context, e Event) error {
	return Insert(ctx, a.db, e)
}

// MemoryAppender keeps events in process. It backs the in-memory storage
// driver, where nothing relays events to a broker.
type MemoryAppender struct {
	mu     sync.Mutex
	events []Event
}

func (a *MemoryAppender) Append(ctx context.Context, e Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
	return nil
}

func (a *MemoryAppender) Events() []Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Event(nil), a.events...)
}

// Types lists the event types appended so far, in order.
func (a *MemoryAppender) Types() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, e.Type)
	}
	return out
}
