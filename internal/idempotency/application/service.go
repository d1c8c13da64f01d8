package application

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmehra2102/multistore-checkout/internal/idempotency/domain"
	"github.com/dmehra2102/multistore-checkout/pkg/pgtx"
)

const DefaultLease = 5 * time.Minute

type Store struct {
	log   *slog.Logger
	repo  Repository
	tx    pgtx.Runner
	lease time.Duration
	now   func() time.Time
	newID func() string
}

type Option func(*Store)

// WithLease sets how long an in-progress record blocks its key before a new
// attempt may take it over.
func WithLease(d time.Duration) Option {
	return func(s *Store) { s.lease = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(log *slog.Logger, repo Repository, tx pgtx.Runner, opts ...Option) *Store {
	s := &Store{
		log:   log,
		repo:  repo,
		tx:    tx,
		lease: DefaultLease,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Claim registers an attempt for (key, userID). It returns a Decision to
// proceed or to replay a completed response, domain.ErrInProgress while
// another attempt holds the key, or domain.ErrKeyReused when the key was used
// for a different request. A failed record is re-armed and may proceed with
// any request body. A proceeding Decision carries the attempt id that
// Complete and Fail must present.
func (s *Store) Claim(ctx context.Context, key, userID, fingerprint string) (domain.Decision, error) {
	if key == "" {
		return domain.Decision{}, domain.ErrMissingKey
	}

	attempt := s.newID()
	decision := domain.Decision{Attempt: attempt}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		now := s.now()
		inserted, err := s.repo.Insert(ctx, domain.Record{
			Key:         key,
			UserID:      userID,
			AttemptID:   attempt,
			Fingerprint: fingerprint,
			Status:      domain.StatusInProgress,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return err
		}
		if inserted {
			return nil
		}

		existing, err := s.repo.GetForUpdate(ctx, key, userID)
		if err != nil {
			return err
		}

		switch existing.Status {
		case domain.StatusCompleted:
			if existing.Fingerprint != fingerprint {
				return domain.ErrKeyReused
			}
			decision = domain.Decision{Replay: true, Response: existing.Response}
			return nil
		case domain.StatusInProgress:
			if existing.Fingerprint != fingerprint {
				return domain.ErrKeyReused
			}
			if now.Sub(existing.UpdatedAt) < s.lease {
				return domain.ErrInProgress
			}
			s.log.Warn("idempotency lease expired, taking over key", "key", key, "user_id", userID,
				"held_since", existing.UpdatedAt)
		}

		ok, err := s.repo.Rearm(ctx, existing, attempt, fingerprint, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrInProgress
		}
		return nil
	})
	if err != nil {
		return domain.Decision{}, err
	}
	return decision, nil
}

// Complete stores the response of the attempt. A completed record is final.
func (s *Store) Complete(ctx context.Context, key, userID, attempt string, response json.RawMessage) error {
	return s.repo.Complete(ctx, key, userID, attempt, response, s.now())
}

// Fail releases the key for a retry. It returns domain.ErrNotHeld when the
// attempt lost the key, so a late failure never reopens a completed record.
func (s *Store) Fail(ctx context.Context, key, userID, attempt, kind, message string) error {
	return s.repo.Fail(ctx, key, userID, attempt, kind, message, s.now())
}

// Purge drops failed and abandoned records older than retention. Completed
// records are kept for replay.
func (s *Store) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repo.PurgeUnfinished(ctx, s.now().Add(-retention))
}
