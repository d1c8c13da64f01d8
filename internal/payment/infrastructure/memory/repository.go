package memory

import (
	"context"
	"sync"

	"github.com/dmehra2102/multistore-checkout/internal/payment/domain"
)

type Repository struct {
	mu      sync.Mutex
	byOrder map[string]domain.Payment
}

func NewRepository() *Repository {
	return &Repository{byOrder: map[string]domain.Payment{}}
}

func (r *Repository) GetByOrder(ctx context.Context, orderID string) (domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byOrder[orderID]
	if !ok {
		return domain.Payment{}, domain.ErrNotFound
	}
	return p, nil
}

func (r *Repository) GetForUpdate(ctx context.Context, orderID string) (domain.Payment, error) {
	return r.GetByOrder(ctx, orderID)
}

func (r *Repository) Insert(ctx context.Context, p domain.Payment) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byOrder[p.OrderID]; ok {
		return false, nil
	}
	r.byOrder[p.OrderID] = p
	return true, nil
}

func (r *Repository) Update(ctx context.Context, p domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byOrder[p.OrderID]; !ok {
		return domain.ErrNotFound
	}
	r.byOrder[p.OrderID] = p
	return nil
}
