package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	// StatusFailed closes an attempt whose payment did not go through.
	StatusFailed Status = "failed"
)

type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "pending"
	PaymentPaid          PaymentStatus = "paid"
	PaymentFailed        PaymentStatus = "failed"
	PaymentRefundPending PaymentStatus = "refund_pending"
	PaymentRefunded      PaymentStatus = "refunded"
)

type DeliveryType string

const (
	DeliveryPickup   DeliveryType = "pickup"
	DeliveryDelivery DeliveryType = "delivery"
)

func (d DeliveryType) Valid() bool { return d == DeliveryPickup || d == DeliveryDelivery }

var (
	ErrNotFound = errors.New("order not found")
	// ErrInvalidState is wrapped by every rejected lifecycle transition.
	ErrInvalidState = errors.New("invalid order state")
	// ErrDuplicateNumber means the generated order number is taken.
	ErrDuplicateNumber = errors.New("order number already exists")
	ErrNumberExhausted = errors.New("could not allocate a unique order number")
)

type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order cannot move from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidState }

var next = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusFailed, StatusCancelled},
	StatusConfirmed: {StatusPreparing, StatusCancelled},
	StatusPreparing: {StatusReady, StatusCancelled},
	StatusReady:     {StatusCompleted, StatusCancelled},
}

// CheckTransition returns a *TransitionError unless from may move to to.
func CheckTransition(from, to Status) error {
	for _, s := range next[from] {
		if s == to {
			return nil
		}
	}
	return &TransitionError{From: from, To: to}
}

type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country,omitempty"`
}

type Order struct {
	ID                  string          `json:"id"`
	OrderNumber         string          `json:"orderNumber"`
	UserID              string          `json:"userId"`
	StoreID             string          `json:"storeId"`
	Status              Status          `json:"status"`
	PaymentStatus       PaymentStatus   `json:"paymentStatus"`
	PaymentMethod       string          `json:"paymentMethod"`
	TransactionID       string          `json:"transactionId,omitempty"`
	DeliveryType        DeliveryType    `json:"deliveryType"`
	DeliveryAddress     *Address        `json:"deliveryAddress,omitempty"`
	SpecialInstructions string          `json:"specialInstructions,omitempty"`
	Subtotal            decimal.Decimal `json:"subtotal"`
	Tax                 decimal.Decimal `json:"tax"`
	DeliveryFee         decimal.Decimal `json:"deliveryFee"`
	Discount            decimal.Decimal `json:"discount"`
	Total               decimal.Decimal `json:"total"`
	CancelReason        string          `json:"cancelReason,omitempty"`
	Items               []Item          `json:"items"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

type Item struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"orderId"`
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
	Status      Status          `json:"status"`
}

// SetStatus moves the order and its items to s.
func (o *Order) SetStatus(s Status, at time.Time) {
	o.Status = s
	for i := range o.Items {
		o.Items[i].Status = s
	}
	o.UpdatedAt = at
}
