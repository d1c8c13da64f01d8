package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dmehra2102/multistore-checkout/internal/idempotency/domain"
)

type recordKey struct{ key, userID string }

type Repository struct {
	mu   sync.Mutex
	rows map[recordKey]domain.Record
}

func NewRepository() *Repository {
	return &Repository{rows: map[recordKey]domain.Record{}}
}

func (r *Repository) Insert(ctx context.Context, rec domain.Record) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := recordKey{rec.Key, rec.UserID}
	if _, ok := r.rows[k]; ok {
		return false, nil
	}
	r.rows[k] = rec
	return true, nil
}

func (r *Repository) GetForUpdate(ctx context.Context, key, userID string) (domain.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[recordKey{key, userID}]
	if !ok {
		return domain.Record{}, domain.ErrNotFound
	}
	return rec, nil
}

func (r *Repository) Rearm(ctx context.Context, prev domain.Record, attemptID, fingerprint string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := recordKey{prev.Key, prev.UserID}
	cur, ok := r.rows[k]
	if !ok || cur.Status != prev.Status || cur.AttemptID != prev.AttemptID {
		return false, nil
	}
	cur.Status = domain.StatusInProgress
	cur.AttemptID = attemptID
	cur.Fingerprint = fingerprint
	cur.Response = nil
	cur.ErrorKind = ""
	cur.ErrorMessage = ""
	cur.UpdatedAt = now
	r.rows[k] = cur
	return true, nil
}

func (r *Repository) Complete(ctx context.Context, key, userID, attemptID string, response json.RawMessage, now time.Time) error {
	return r.finish(key, userID, attemptID, func(rec *domain.Record) {
		rec.Status = domain.StatusCompleted
		rec.Response = append(json.RawMessage(nil), response...)
		rec.UpdatedAt = now
	})
}

func (r *Repository) Fail(ctx context.Context, key, userID, attemptID, kind, message string, now time.Time) error {
	return r.finish(key, userID, attemptID, func(rec *domain.Record) {
		rec.Status = domain.StatusFailed
		rec.ErrorKind = kind
		rec.ErrorMessage = message
		rec.UpdatedAt = now
	})
}

func (r *Repository) finish(key, userID, attemptID string, fn func(*domain.Record)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := recordKey{key, userID}
	rec, ok := r.rows[k]
	if !ok || rec.Status != domain.StatusInProgress || rec.AttemptID != attemptID {
		return domain.ErrNotHeld
	}
	fn(&rec)
	r.rows[k] = rec
	return nil
}

func (r *Repository) PurgeUnfinished(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, rec := range r.rows {
		if rec.Status != domain.StatusCompleted && rec.UpdatedAt.Before(before) {
			delete(r.rows, k)
			n++
		}
	}
	return n, nil
}
