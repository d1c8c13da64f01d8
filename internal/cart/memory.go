package cart

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

type cartKey struct{ userID, storeID string }

// Memory prices carts itself: tax is TaxRate of the subtotal, rounded to
// cents, and delivery fee and discount are flat.
type Memory struct {
	TaxRate     decimal.Decimal
	DeliveryFee decimal.Decimal
	Discount    decimal.Decimal

	mu    sync.Mutex
	lines map[cartKey][]Line
}

func NewMemory(taxRate decimal.Decimal) *Memory {
	return &Memory{TaxRate: taxRate, lines: map[cartKey][]Line{}}
}

// Add puts qty units of a product at price into the user's cart for a store.
func (m *Memory) Add(userID, storeID, productID string, qty int, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := cartKey{userID, storeID}
	for i, l := range m.lines[k] {
		if l.ProductID == productID {
			m.lines[k][i].Quantity += qty
			m.lines[k][i].PriceAtTime = price
			return
		}
	}
	m.lines[k] = append(m.lines[k], Line{ProductID: productID, Quantity: qty, PriceAtTime: price})
}

func (m *Memory) GetCartWithTotals(ctx context.Context, userID, storeID string) (Cart, error) {
	m.mu.Lock()
	lines := append([]Line(nil), m.lines[cartKey{userID, storeID}]...)
	m.mu.Unlock()

	c := Cart{UserID: userID, StoreID: storeID, Items: lines}
	for _, l := range lines {
		c.Subtotal = c.Subtotal.Add(l.PriceAtTime.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	if len(lines) == 0 {
		return c, nil
	}
	c.Tax = c.Subtotal.Mul(m.TaxRate).Round(2)
	c.DeliveryFee = m.DeliveryFee
	c.Discount = m.Discount
	c.Total = c.Subtotal.Add(c.Tax).Add(c.DeliveryFee).Sub(c.Discount)
	return c, nil
}

func (m *Memory) Clear(ctx context.Context, userID, storeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lines, cartKey{userID, storeID})
	return nil
}
