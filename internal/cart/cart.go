// Package cart is the client side of the external cart service: checkout
// reads a priced snapshot of the user's cart for a store and clears it once
// the order is confirmed.
package cart

import (
	"context"

	"github.com/shopspring/decimal"
)

type Line struct {
	ProductID   string          `json:"productId"`
	Quantity    int             `json:"quantity"`
	PriceAtTime decimal.Decimal `json:"priceAtTime"`
}

type Cart struct {
	UserID      string          `json:"userId"`
	StoreID     string          `json:"storeId"`
	Items       []Line          `json:"items"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Tax         decimal.Decimal `json:"tax"`
	DeliveryFee decimal.Decimal `json:"deliveryFee"`
	Discount    decimal.Decimal `json:"discount"`
	Total       decimal.Decimal `json:"total"`
}

type Service interface {
	GetCartWithTotals(ctx context.Context, userID, storeID string) (Cart, error)
	Clear(ctx context.Context, userID, storeID string) error
}
