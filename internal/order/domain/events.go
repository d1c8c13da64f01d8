package domain

import "github.com/shopspring/decimal"

const (
	EventConfirmed     = "order.confirmed"
	EventCancelled     = "order.cancelled"
	EventStatusChanged = "order.status_changed"
	EventPaymentFailed = "order.payment_failed"
)

// Event is an order change published through the outbox.
type Event interface {
	Type() string
}

type EventLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type OrderConfirmed struct {
	OrderID     string          `json:"orderId"`
	OrderNumber string          `json:"orderNumber"`
	UserID      string          `json:"userId"`
	StoreID     string          `json:"storeId"`
	Total       decimal.Decimal `json:"total"`
	Items       []EventLine     `json:"items"`
}

type OrderCancelled struct {
	OrderID string `json:"orderId"`
	StoreID string `json:"storeId"`
	Reason  string `json:"reason,omitempty"`
	Refund  bool   `json:"refund"`
}

type OrderStatusChanged struct {
	OrderID string `json:"orderId"`
	StoreID string `json:"storeId"`
	From    Status `json:"from"`
	To      Status `json:"to"`
}

type OrderPaymentFailed struct {
	OrderID string `json:"orderId"`
	UserID  string `json:"userId"`
	Reason  string `json:"reason"`
}

func (OrderConfirmed) Type() string     { return EventConfirmed }
func (OrderCancelled) Type() string     { return EventCancelled }
func (OrderStatusChanged) Type() string { return EventStatusChanged }
func (OrderPaymentFailed) Type() string { return EventPaymentFailed }

func Lines(items []Item) []EventLine {
	out := make([]EventLine, 0, len(items))
	for _, it := range items {
		out = append(out, EventLine{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return out
}
