package application_test

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/multistore-checkout/internal/idempotency/application"
	"github.com/dmehra2102/multistore-checkout/internal/idempotency/domain"
	"github.com/dmehra2102/multistore-checkout/internal/idempotency/infrastructure/memory"
	"github.com/dmehra2102/multistore-checkout/pkg/logging"
	"github.com/dmehra2102/multistore-checkout/pkg/pgtx"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newStore() (*application.Store, *fixedClock) {
	c := &fixedClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return application.NewStore(logging.Discard(), memory.NewRepository(), pgtx.NopRunner{},
		application.WithLease(time.Minute), application.WithClock(c.Now)), c
}

func TestClaim(t *testing.T) {
	ctx := context.Background()
	response := json.RawMessage(`{"orderNumber":"ORD-1"}`)

	tests := []struct {
		name    string
		prepare func(t *testing.T, s *application.Store, c *fixedClock)
		fp      string
		want    domain.Decision
		wantErr error
	}{
		{
			name: "fresh key proceeds",
			fp:   "fp-1",
		},
		{
			name: "completed key replays stored response",
			prepare: func(t *testing.T, s *application.Store, c *fixedClock) {
				d, err := s.Claim(ctx, "k", "u", "fp-1")
				require.NoError(t, err)
				require.NoError(t, s.Complete(ctx, "k", "u", d.Attempt, response))
			},
			fp:   "fp-1",
			want: domain.Decision{Replay: true, Response: response},
		},
		{
			name: "completed key with another body is rejected",
			prepare: func(t *testing.T, s *application.Store, c *fixedClock) {
				d, err := s.Claim(ctx, "k", "u", "fp-1")
				require.NoError(t, err)
				require.NoError(t, s.Complete(ctx, "k", "u", d.Attempt, response))
			},
			fp:      "fp-2",
			wantErr: domain.ErrKeyReused,
		},
		{
			name: "in progress key conflicts",
			prepare: func(t *testing.T, s *application.Store, c *fixedClock) {
				_, err := s.Claim(ctx, "k", "u", "fp-1")
				require.NoError(t, err)
			},
			fp:      "fp-1",
			wantErr: domain.ErrInProgress,
		},
		{
			name: "in progress key with another body is rejected",
			prepare: func(t *testing.T, s *application.Store, c *fixedClock) {
				_, err := s.Claim(ctx, "k", "u", "fp-1")
				require.NoError(t, err)
			},
			fp:      "fp-2",
			wantErr: domain.ErrKeyReused,
		},
		{
			name: "stale in progress key is taken over",
			prepare: func(t *testing.T, s *application.Store, c *fixedClock) {
				_, err := s.Claim(ctx, "k", "u", "fp-1")
				require.NoError(t, err)
				c.Advance(2 * time.Minute)
			},
			fp: "fp-1",
		},
		{
			name: "failed key proceeds even with another body",
			prepare: func(t *testing.T, s *application.Store, c *fixedClock) {
				d, err := s.Claim(ctx, "k", "u", "fp-1")
				require.NoError(t, err)
				require.NoError(t, s.Fail(ctx, "k", "u", d.Attempt, "payment_declined", "card declined"))
			},
			fp: "fp-2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, c := newStore()
			if tt.prepare != nil {
				tt.prepare(t, s, c)
			}
			got, err := s.Claim(ctx, "k", "u", tt.fp)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Replay, got.Replay)
			assert.Equal(t, tt.want.Response, got.Response)
			if !got.Replay {
				assert.NotEmpty(t, got.Attempt)
			}
		})
	}
}

func TestClaim_ScopedPerUser(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore()

	_, err := s.Claim(ctx, "k", "user-a", "fp")
	require.NoError(t, err)
	_, err = s.Claim(ctx, "k", "user-b", "fp")
	require.NoError(t, err)
}

func TestClaim_ConcurrentOnlyOneProceeds(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore()

	var (
		wg       sync.WaitGroup
		proceed  atomic.Int32
		conflict atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := s.Claim(ctx, "k", "u", "fp")
			switch {
			case err == nil && !d.Replay:
				proceed.Add(1)
			case err == domain.ErrInProgress:
				conflict.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), proceed.Load())
	assert.Equal(t, int32(19), conflict.Load())
}

func TestFail_AfterTakeoverKeepsCompletedRecord(t *testing.T) {
	ctx := context.Background()
	s, c := newStore()
	response := json.RawMessage(`{"orderNumber":"ORD-1"}`)

	first, err := s.Claim(ctx, "k", "u", "fp")
	require.NoError(t, err)
	c.Advance(2 * time.Minute)
	second, err := s.Claim(ctx, "k", "u", "fp")
	require.NoError(t, err)
	require.NotEqual(t, first.Attempt, second.Attempt)
	require.NoError(t, s.Complete(ctx, "k", "u", second.Attempt, response))

	err = s.Fail(ctx, "k", "u", first.Attempt, "unavailable", "timed out")
	require.ErrorIs(t, err, domain.ErrNotHeld)

	d, err := s.Claim(ctx, "k", "u", "fp")
	require.NoError(t, err)
	assert.True(t, d.Replay)
	assert.Equal(t, response, d.Response)
}

func TestComplete_RequiresHoldingAttempt(t *testing.T) {
	ctx := context.Background()
	s, c := newStore()

	first, err := s.Claim(ctx, "k", "u", "fp")
	require.NoError(t, err)
	c.Advance(2 * time.Minute)
	second, err := s.Claim(ctx, "k", "u", "fp")
	require.NoError(t, err)

	err = s.Complete(ctx, "k", "u", first.Attempt, json.RawMessage(`{"stale":true}`))
	require.ErrorIs(t, err, domain.ErrNotHeld)

	require.NoError(t, s.Fail(ctx, "k", "u", second.Attempt, "payment_declined", "card declined"))
	err = s.Fail(ctx, "k", "u", second.Attempt, "payment_declined", "card declined")
	require.ErrorIs(t, err, domain.ErrNotHeld, "a finished record is not finished twice")
}

func TestClaim_MissingKey(t *testing.T) {
	s, _ := newStore()
	_, err := s.Claim(context.Background(), "", "u", "fp")
	require.ErrorIs(t, err, domain.ErrMissingKey)
}

func TestPurgeKeepsCompleted(t *testing.T) {
	ctx := context.Background()
	s, c := newStore()

	done, err := s.Claim(ctx, "done", "u", "fp")
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, "done", "u", done.Attempt, json.RawMessage(`{}`)))
	failed, err := s.Claim(ctx, "failed", "u", "fp")
	require.NoError(t, err)
	require.NoError(t, s.Fail(ctx, "failed", "u", failed.Attempt, "unavailable", "boom"))

	c.Advance(48 * time.Hour)
	n, err := s.Purge(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	d, err := s.Claim(ctx, "done", "u", "fp")
	require.NoError(t, err)
	assert.True(t, d.Replay)
}

func TestFingerprintIsStable(t *testing.T) {
	type body struct {
		A string `json:"a"`
		B int    `json:"b"`
	}
	a, err := domain.Fingerprint(body{A: "x", B: 1})
	require.NoError(t, err)
	b, err := domain.Fingerprint(body{A: "x", B: 1})
	require.NoError(t, err)
	c, err := domain.Fingerprint(body{A: "x", B: 2})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
