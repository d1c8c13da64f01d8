package domain

import (
	"errors"
	"time"
)

type Status string

const (
	StatusReserved  Status = "reserved"
	StatusUsed      Status = "used"
	StatusReleased  Status = "released"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool { return s != StatusReserved }

// ReleasesStock reports whether entering s gives the held units back.
func (s Status) ReleasesStock() bool {
	return s == StatusReleased || s == StatusExpired || s == StatusCancelled
}

var (
	ErrNotFound  = errors.New("reservation not found")
	// ErrNotActive is returned when a reservation already left the reserved state.
	ErrNotActive = errors.New("reservation is no longer active")
)

// Outcome decides what settling a used reservation does to the ledger.
type Outcome string

const (
	// OutcomeFulfilled deducts the held units from stock.
	OutcomeFulfilled Outcome = "fulfilled"
	// OutcomeCancelled returns the held units.
	OutcomeCancelled Outcome = "cancelled"
)

// Hold asks for qty units of a product in a store on behalf of a checkout attempt.
type Hold struct {
	StoreID   string
	ProductID string
	Quantity  int
	UserID    string
	AttemptID string
}

type Reservation struct {
	ID        string
	StoreID   string
	ProductID string
	Quantity  int
	UserID    string
	AttemptID string
	OrderID   string
	Status    Status
	ExpiresAt time.Time
	SettledAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r Reservation) Expired(now time.Time) bool {
	return r.Status == StatusReserved && !now.Before(r.ExpiresAt)
}
