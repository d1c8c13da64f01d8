package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/dmehra2102/multistore-checkout/internal/order/domain"
)

type Repository struct {
	mu       sync.Mutex
	orders   map[string]domain.Order
	byNumber map[string]string
}

func NewRepository() *Repository {
	return &Repository{
		orders:   map[string]domain.Order{},
		byNumber: map[string]string{},
	}
}

func (r *Repository) Insert(ctx context.Context, o domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byNumber[o.OrderNumber]; ok {
		return domain.ErrDuplicateNumber
	}
	r.orders[o.ID] = clone(o)
	r.byNumber[o.OrderNumber] = o.ID
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return clone(o), nil
}

func (r *Repository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.Get(ctx, id)
}

func (r *Repository) Update(ctx context.Context, o domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.orders[o.ID]
	if !ok {
		return domain.ErrNotFound
	}
	cur.Status = o.Status
	cur.PaymentStatus = o.PaymentStatus
	cur.TransactionID = o.TransactionID
	cur.CancelReason = o.CancelReason
	cur.UpdatedAt = o.UpdatedAt
	cur.Items = append([]domain.Item(nil), cur.Items...)
	for i := range cur.Items {
		cur.Items[i].Status = o.Status
	}
	r.orders[o.ID] = cur
	return nil
}

func (r *Repository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, o := range r.orders {
		if o.UserID == userID {
			out = append(out, clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clone(o domain.Order) domain.Order {
	o.Items = append([]domain.Item(nil), o.Items...)
	return o
}
