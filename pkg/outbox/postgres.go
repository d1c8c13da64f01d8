package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmehra2102/multistore-checkout/pkg/pgtx"
)

// MaxRetries bounds how often a failed event is picked up again.
const MaxRetries = 10

// Insert appends an event to the outbox using the transaction in ctx when
// there is one, so the event commits or rolls back with the state change.
func Insert(ctx context.Context, db pgtx.Querier, e Event) error {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.Headers == nil {
		e.Headers = map[string]string{}
	}
	_, err := pgtx.Conn(ctx, db).Exec(ctx, `INSERT INTO outbox (event_id, aggregate_type, aggregate_id, type, payload, headers, traceparent, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,'pending')`,
		e.EventID, e.AggregateType, e.AggregateID, e.Type, e.Payload, e.Headers, e.Traceparent)
	return err
}

type PGStore struct {
	log            *slog.Logger
	db             pgtx.DB
	aggregateTypes []string
}

// NewPGStore relays the events of the given aggregate types, or all events
// when none are given. Services sharing one database relay their own
// aggregates only.
func NewPGStore(log *slog.Logger, db pgtx.DB, aggregateTypes ...string) *PGStore {
	if aggregateTypes == nil {
		aggregateTypes = []string{}
	}
	return &PGStore{log: log, db: db, aggregateTypes: aggregateTypes}
}

// LockBatch leases pending events, failed events still under the retry
// budget and in-progress events whose lease ran out.
func (s *PGStore) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]Event, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	rows, err := tx.Query(ctx, `
		SELECT id, event_id, aggregate_type, aggregate_id, type, payload, headers, traceparent, created_at, retry_count
		FROM outbox
		WHERE (cardinality($3::text[]) = 0 OR aggregate_type = ANY($3))
		  AND (status = 'pending'
		   OR (status = 'failed' AND retry_count < $2)
		   OR (status = 'in_progress' AND lease_until < now()))
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, batchSize, MaxRetries, s.aggregateTypes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	leaseUntil := time.Now().Add(lease)
	for rows.Next() {
		var event Event
		var headers map[string]string
		if err := rows.Scan(&event.ID, &event.EventID, &event.AggregateType, &event.AggregateID, &event.Type, &event.Payload, &headers, &event.Traceparent, &event.CreatedAt, &event.Attempts); err != nil {
			return nil, err
		}
		event.Headers = headers
		event.Status = StatusInProgress
		event.RelayID = relayID
		event.LeaseUntil = leaseUntil
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `UPDATE outbox SET status='in_progress', relay_id=$1, lease_until=now() + $2 * interval '1 millisecond' WHERE id = ANY($3)`,
		relayID, lease.Milliseconds(), remaining(events))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *PGStore) MarkSent(ctx context.Context, ids []int64) error {
	ct, err := s.db.Exec(ctx, `UPDATE outbox SET status='sent', sent_at=now() WHERE id = ANY($1)`, ids)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return errors.New("outbox: no rows updated")
	}
	return nil
}

func (s *PGStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := s.db.Exec(ctx, `UPDATE outbox SET status='failed', last_error=$2, retry_count=retry_count+1 WHERE id=$1`, id, errMsg)
	return err
}

func (s *PGStore) ExtendLease(ctx context.Context, relayID string, ids []int64, lease time.Duration) error {
	_, err := s.db.Exec(ctx, `UPDATE outbox SET lease_until=now() + $1 * interval '1 millisecond' WHERE id = ANY($2) AND relay_id=$3`, lease.Milliseconds(), ids, relayID)
	return err
}
