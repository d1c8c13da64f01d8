package outbox

import "time"

// Status tracks an outbox row through the relay.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	// StatusFailed rows are picked up again until MaxRetries is reached.
	StatusFailed Status = "failed"
)

// Headers the dispatcher adds to every published record.
const (
	HeaderEventID   = "event_id"
	HeaderEventType = "event_type"
)

// Event is one outbox row. AggregateType is "order" or "payment" and decides
// which relay publishes it; AggregateID becomes the record key.
type Event struct {
	ID int64
	// EventID is what consumers deduplicate on.
	EventID       string
	AggregateType string
	AggregateID   string
	Type          string
	Payload       []byte
	Headers       map[string]string
	Traceparent   string
	CreatedAt     time.Time

	// Set by LockBatch.
	Status     Status
	RelayID    string
	LeaseUntil time.Time
	// Attempts counts earlier dispatches that failed.
	Attempts int
}

// Exhausted reports whether one more failure uses up the retry budget.
func (e Event) Exhausted() bool { return e.Attempts+1 >= MaxRetries }
