package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmehra2102/multistore-checkout/internal/inventory/domain"
)

// Repository keeps stock in a map. Every operation holds the mutex for its
// whole check-and-update, mirroring the row lock of the SQL adapter.
type Repository struct {
	mu      sync.Mutex
	records map[domain.Key]domain.Record
	now     func() time.Time
}

func NewRepository(seed ...domain.Record) *Repository {
	r := &Repository{records: map[domain.Key]domain.Record{}, now: time.Now}
	for _, rec := range seed {
		rec.UpdatedAt = r.now()
		r.records[rec.Key()] = rec
	}
	return r
}

func (r *Repository) Get(ctx context.Context, key domain.Key) (domain.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok {
		return domain.Record{}, domain.ErrNotFound
	}
	return rec, nil
}

func (r *Repository) Reserve(ctx context.Context, key domain.Key, qty int) (domain.Record, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok {
		return domain.Record{}, false, domain.ErrNotFound
	}
	if !rec.IsAvailable || rec.QuantityAvailable-rec.ReservedQuantity < qty {
		return rec, false, nil
	}
	rec.ReservedQuantity += qty
	rec.UpdatedAt = r.now()
	r.records[key] = rec
	return rec, true, nil
}

func (r *Repository) Release(ctx context.Context, key domain.Key, qty int) (domain.Record, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok {
		return domain.Record{}, 0, domain.ErrNotFound
	}
	short := 0
	if qty > rec.ReservedQuantity {
		short = qty - rec.ReservedQuantity
		rec.ReservedQuantity = 0
	} else {
		rec.ReservedQuantity -= qty
	}
	rec.UpdatedAt = r.now()
	r.records[key] = rec
	return rec, short, nil
}

func (r *Repository) Deduct(ctx context.Context, key domain.Key, qty int) (domain.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok {
		return domain.Record{}, domain.ErrNotFound
	}
	if rec.ReservedQuantity < qty {
		return domain.Record{}, domain.ErrDeductExceedsHold
	}
	rec.QuantityAvailable -= qty
	rec.ReservedQuantity -= qty
	rec.UpdatedAt = r.now()
	r.records[key] = rec
	return rec, nil
}

func (r *Repository) Upsert(ctx context.Context, rec domain.Record) (domain.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.records[rec.Key()]
	if ok {
		if cur.ReservedQuantity > rec.QuantityAvailable {
			return domain.Record{}, domain.ErrBelowReserved
		}
		rec.ReservedQuantity = cur.ReservedQuantity
	} else {
		rec.ReservedQuantity = 0
	}
	rec.UpdatedAt = r.now()
	r.records[rec.Key()] = rec
	return rec, nil
}

func (r *Repository) ListLow(ctx context.Context, storeID string) ([]domain.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Record
	for k, rec := range r.records {
		if k.StoreID == storeID && rec.ReorderLevel != nil && rec.QuantityAvailable-rec.ReservedQuantity <= *rec.ReorderLevel {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}
