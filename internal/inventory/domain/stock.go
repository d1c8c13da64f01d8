package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("inventory record not found")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrBelowReserved     = errors.New("quantity available cannot drop below reserved quantity")
	ErrDeductExceedsHold = errors.New("deduction exceeds reserved quantity")
)

// Key addresses one product's stock in one store.
type Key struct {
	StoreID   string
	ProductID string
}

func (k Key) String() string { return k.StoreID + "/" + k.ProductID }

// Record is the per-store stock of a product. ReservedQuantity counts units
// held for checkouts and never exceeds QuantityAvailable.
type Record struct {
	StoreID           string    `json:"storeId"`
	ProductID         string    `json:"productId"`
	QuantityAvailable int       `json:"quantityAvailable"`
	ReservedQuantity  int       `json:"reservedQuantity"`
	IsAvailable       bool      `json:"isAvailable"`
	ReorderLevel      *int      `json:"reorderLevel,omitempty"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func (r Record) Key() Key { return Key{StoreID: r.StoreID, ProductID: r.ProductID} }

// AvailableToSell is the quantity a new reservation may still take.
func (r Record) AvailableToSell() int {
	if !r.IsAvailable {
		return 0
	}
	if n := r.QuantityAvailable - r.ReservedQuantity; n > 0 {
		return n
	}
	return 0
}

func (r Record) LowStock() bool {
	return r.ReorderLevel != nil && r.AvailableToSell() <= *r.ReorderLevel
}

type InsufficientStockError struct {
	StoreID   string
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s in store %s: requested %d, available %d",
		e.ProductID, e.StoreID, e.Requested, e.Available)
}

// Line is a requested quantity of a product, used by availability checks.
type Line struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type Shortage struct {
	ProductID string `json:"productId"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}
