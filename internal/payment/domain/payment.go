package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusCaptured Status = "captured"
	StatusDeclined Status = "declined"
	StatusRefunded Status = "refunded"
)

var (
	ErrNotFound       = errors.New("payment not found")
	ErrInvalidRequest = errors.New("invalid payment request")
	ErrInvalidAmount  = fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	ErrNotRefundable  = errors.New("payment is not captured")
	ErrRefundTooHigh  = errors.New("refund exceeds captured amount")
)

type Payment struct {
	ID            string          `json:"id"`
	OrderID       string          `json:"orderId"`
	UserID        string          `json:"userId"`
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method"`
	Status        Status          `json:"status"`
	TransactionID string          `json:"transactionId"`
	DeclineReason string          `json:"declineReason,omitempty"`
	RefundID      string          `json:"refundId,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Result projects a stored payment onto the charge response, so that a
// repeated charge for the same order answers exactly like the first one.
func (p Payment) Result() ChargeResult {
	if p.Status == StatusDeclined {
		return ChargeResult{Success: false, TransactionID: p.TransactionID, Error: p.DeclineReason}
	}
	return ChargeResult{Success: true, TransactionID: p.TransactionID}
}

type ChargeRequest struct {
	OrderID     string          `json:"orderId"`
	OrderNumber string          `json:"orderNumber,omitempty"`
	UserID      string          `json:"userId"`
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method"`
}

func (r ChargeRequest) Validate() error {
	if r.OrderID == "" {
		return fmt.Errorf("%w: orderId is required", ErrInvalidRequest)
	}
	if r.Method == "" {
		return fmt.Errorf("%w: method is required", ErrInvalidRequest)
	}
	if !r.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// ChargeResult is a completed gateway answer. A decline is a result with
// Success false, not an error.
type ChargeResult struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId,omitempty"`
	Error         string `json:"error,omitempty"`
}

type RefundRequest struct {
	OrderID string          `json:"orderId"`
	Amount  decimal.Decimal `json:"amount"`
	Reason  string          `json:"reason,omitempty"`
}

type RefundResult struct {
	Success  bool   `json:"success"`
	RefundID string `json:"refundId,omitempty"`
	Error    string `json:"error,omitempty"`
}
