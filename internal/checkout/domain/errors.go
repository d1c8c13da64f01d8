package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the stable machine-readable category of a checkout failure.
type Kind string

const (
	KindInvalidRequest       Kind = "invalid_request"
	KindCartValidation       Kind = "cart_validation_failed"
	KindInsufficientStock    Kind = "insufficient_stock"
	KindPaymentDeclined      Kind = "payment_declined"
	KindIdempotencyConflict  Kind = "idempotency_conflict"
	KindIdempotencyKeyReused Kind = "idempotency_key_reused"
	KindInvalidOrderState    Kind = "invalid_order_state"
	KindNotFound             Kind = "not_found"
	// KindUnavailable covers infrastructure failures; the caller may retry.
	KindUnavailable Kind = "unavailable"
)

// Error is what the orchestrator returns for every failed operation.
type Error struct {
	Kind      Kind     `json:"kind"`
	Message   string   `json:"message"`
	ProductID string   `json:"productId,omitempty"`
	Available *int     `json:"available,omitempty"`
	Reasons   []string `json:"reasons,omitempty"`

	Err error `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the same request may succeed later unchanged.
func (e *Error) Retryable() bool {
	return e.Kind == KindUnavailable || e.Kind == KindIdempotencyConflict
}

func InvalidRequest(msg string) *Error {
	return &Error{Kind: KindInvalidRequest, Message: msg}
}

func CartValidationFailed(reasons ...string) *Error {
	return &Error{
		Kind:    KindCartValidation,
		Message: "cart validation failed: " + strings.Join(reasons, "; "),
		Reasons: reasons,
	}
}

func InsufficientStock(productID string, available int) *Error {
	return &Error{
		Kind:      KindInsufficientStock,
		Message:   fmt.Sprintf("insufficient stock for product %s: %d available", productID, available),
		ProductID: productID,
		Available: &available,
	}
}

func PaymentDeclined(reason string) *Error {
	if reason == "" {
		reason = "payment declined"
	}
	return &Error{Kind: KindPaymentDeclined, Message: reason}
}

func IdempotencyConflict(err error) *Error {
	return &Error{Kind: KindIdempotencyConflict, Message: "a request with this idempotency key is still in progress", Err: err}
}

func IdempotencyKeyReused(err error) *Error {
	return &Error{Kind: KindIdempotencyKeyReused, Message: "idempotency key was already used for a different request", Err: err}
}

func InvalidOrderState(err error) *Error {
	return &Error{Kind: KindInvalidOrderState, Message: err.Error(), Err: err}
}

func NotFound(what string, err error) *Error {
	return &Error{Kind: KindNotFound, Message: what + " not found", Err: err}
}

func Unavailable(msg string, err error) *Error {
	return &Error{Kind: KindUnavailable, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindUnavailable when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnavailable
}
