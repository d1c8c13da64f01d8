package application

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dmehra2102/multistore-checkout/internal/idempotency/domain"
)

type Repository interface {
	// Insert creates the record unless (key, user) exists and reports whether it did.
	Insert(ctx context.Context, rec domain.Record) (bool, error)
	// GetForUpdate loads the record and locks it for the current transaction.
	GetForUpdate(ctx context.Context, key, userID string) (domain.Record, error)
	// Rearm moves prev back to in_progress under a new attempt and
	// fingerprint, provided it is unchanged since it was read. It reports
	// whether it did.
	Rearm(ctx context.Context, prev domain.Record, attemptID, fingerprint string, now time.Time) (bool, error)
	// Complete and Fail finish the record only while attemptID still holds it
	// in_progress, and return domain.ErrNotHeld otherwise.
	Complete(ctx context.Context, key, userID, attemptID string, response json.RawMessage, now time.Time) error
	Fail(ctx context.Context, key, userID, attemptID, kind, message string, now time.Time) error
	PurgeUnfinished(ctx context.Context, before time.Time) (int64, error)
}
