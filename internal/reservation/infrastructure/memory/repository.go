package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmehra2102/multistore-checkout/internal/reservation/domain"
)

type Repository struct {
	mu   sync.Mutex
	rows map[string]domain.Reservation
}

func NewRepository() *Repository {
	return &Repository{rows: map[string]domain.Reservation{}}
}

func (r *Repository) Insert(ctx context.Context, res domain.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[res.ID]; ok {
		return fmt.Errorf("reservation %s already exists", res.ID)
	}
	r.rows[res.ID] = res
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.rows[id]
	if !ok {
		return domain.Reservation{}, domain.ErrNotFound
	}
	return res, nil
}

func (r *Repository) Transition(ctx context.Context, id string, to domain.Status, now time.Time) (domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.rows[id]
	if !ok {
		return domain.Reservation{}, domain.ErrNotFound
	}
	if res.Status != domain.StatusReserved {
		return domain.Reservation{}, domain.ErrNotActive
	}
	res.Status = to
	res.UpdatedAt = now
	r.rows[id] = res
	return res, nil
}

func (r *Repository) MarkUsed(ctx context.Context, ids []string, orderID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		res, ok := r.rows[id]
		if !ok || res.Status != domain.StatusReserved {
			return fmt.Errorf("hold %s: %w", id, domain.ErrNotActive)
		}
	}
	for _, id := range ids {
		res := r.rows[id]
		res.Status = domain.StatusUsed
		res.OrderID = orderID
		res.UpdatedAt = now
		r.rows[id] = res
	}
	return nil
}

func (r *Repository) ClaimExpired(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []domain.Reservation
	for _, res := range r.rows {
		if res.Expired(now) {
			due = append(due, res)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ExpiresAt.Before(due[j].ExpiresAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		due[i].Status = domain.StatusExpired
		due[i].UpdatedAt = now
		r.rows[due[i].ID] = due[i]
	}
	return due, nil
}

func (r *Repository) ListForOrder(ctx context.Context, orderID string, status domain.Status) ([]domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Reservation
	for _, res := range r.rows {
		if (res.OrderID == orderID || res.AttemptID == orderID) && res.Status == status {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *Repository) MarkSettled(ctx context.Context, id string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.rows[id]
	if !ok || res.Status != domain.StatusUsed || res.SettledAt != nil {
		return false, nil
	}
	res.SettledAt = &now
	res.UpdatedAt = now
	r.rows[id] = res
	return true, nil
}

func (r *Repository) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, res := range r.rows {
		if !res.UpdatedAt.Before(before) {
			continue
		}
		if res.Status.ReleasesStock() || (res.Status == domain.StatusUsed && res.SettledAt != nil) {
			delete(r.rows, id)
			n++
		}
	}
	return n, nil
}
