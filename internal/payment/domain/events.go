package domain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	EventCaptured = "payment.captured"
	EventDeclined = "payment.declined"
	EventRefunded = "payment.refunded"
)

var ErrUnknownEvent = errors.New("unknown payment event")

// Event is one of PaymentCaptured, PaymentDeclined or PaymentRefunded.
type Event interface {
	Type() string
	Order() string
}

type PaymentCaptured struct {
	OrderID       string          `json:"orderId"`
	UserID        string          `json:"userId"`
	TransactionID string          `json:"transactionId"`
	Amount        decimal.Decimal `json:"amount"`
}

type PaymentDeclined struct {
	OrderID string          `json:"orderId"`
	UserID  string          `json:"userId"`
	Amount  decimal.Decimal `json:"amount"`
	Reason  string          `json:"reason"`
}

type PaymentRefunded struct {
	OrderID  string          `json:"orderId"`
	RefundID string          `json:"refundId"`
	Amount   decimal.Decimal `json:"amount"`
	Reason   string          `json:"reason,omitempty"`
}

func (PaymentCaptured) Type() string { return EventCaptured }
func (e PaymentCaptured) Order() string { return e.OrderID }
func (PaymentDeclined) Type() string { return EventDeclined }
func (e PaymentDeclined) Order() string { return e.OrderID }
func (PaymentRefunded) Type() string { return EventRefunded }
func (e PaymentRefunded) Order() string { return e.OrderID }

// DecodeEvent parses a broker payload into its typed event and rejects
// payloads missing the fields consumers rely on.
func DecodeEvent(eventType string, payload []byte) (Event, error) {
	switch eventType {
	case EventCaptured:
		var e PaymentCaptured
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		if e.OrderID == "" || e.TransactionID == "" {
			return nil, fmt.Errorf("decode %s: orderId and transactionId are required", eventType)
		}
		return e, nil
	case EventDeclined:
		var e PaymentDeclined
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		if e.OrderID == "" {
			return nil, fmt.Errorf("decode %s: orderId is required", eventType)
		}
		return e, nil
	case EventRefunded:
		var e PaymentRefunded
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		if e.OrderID == "" || e.RefundID == "" {
			return nil, fmt.Errorf("decode %s: orderId and refundId are required", eventType)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, eventType)
	}
}
