// Package domain holds the checkout request and its failure taxonomy.
package domain

import (
	"encoding/json"
	"strings"

	orderdomain "github.com/dmehra2102/multistore-checkout/internal/order/domain"
)

type Request struct {
	UserID              string                   `json:"userId"`
	StoreID             string                   `json:"storeId"`
	DeliveryType        orderdomain.DeliveryType `json:"deliveryType"`
	Address             *orderdomain.Address     `json:"address,omitempty"`
	SpecialInstructions string                   `json:"specialInstructions,omitempty"`
	PaymentMethod       string                   `json:"paymentMethod"`
	IdempotencyKey      string                   `json:"-"`
}

// Validate checks the request shape. Cart contents are checked later.
func (r Request) Validate() error {
	var reasons []string
	if strings.TrimSpace(r.UserID) == "" {
		reasons = append(reasons, "user id is required")
	}
	if strings.TrimSpace(r.StoreID) == "" {
		reasons = append(reasons, "store id is required")
	}
	if !r.DeliveryType.Valid() {
		reasons = append(reasons, "deliveryType must be pickup or delivery")
	}
	if r.DeliveryType == orderdomain.DeliveryDelivery && r.Address == nil {
		reasons = append(reasons, "address is required for delivery")
	}
	if strings.TrimSpace(r.PaymentMethod) == "" {
		reasons = append(reasons, "paymentMethod is required")
	}
	if len(reasons) > 0 {
		return InvalidRequest(strings.Join(reasons, "; "))
	}
	return nil
}

// Receipt is a finished checkout. Body is the order JSON exactly as it was
// first returned; replays return the same bytes.
type Receipt struct {
	Order    orderdomain.Order
	Body     json.RawMessage
	Replayed bool
}
