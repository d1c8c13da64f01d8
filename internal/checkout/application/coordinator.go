package application

import (
	"context"
	"errors"
	"log/slog"

	orderdomain "github.com/dmehra2102/multistore-checkout/internal/order/domain"
	paydomain "github.com/dmehra2102/multistore-checkout/internal/payment/domain"
)

// Coordinator reconciles orders with events published by the payment
// gateway. Charges are recorded synchronously by checkout, so only refunds
// can still change an order here.
type Coordinator struct {
	log    *slog.Logger
	orders Orders
}

func NewCoordinator(log *slog.Logger, orders Orders) *Coordinator {
	return &Coordinator{log: log, orders: orders}
}

func (c *Coordinator) HandlePaymentEvent(ctx context.Context, e paydomain.Event) error {
	switch ev := e.(type) {
	case paydomain.PaymentRefunded:
		return c.onRefunded(ctx, ev)
	default:
		c.log.Debug("payment event needs no action", "type", e.Type(), "order_id", e.Order())
		return nil
	}
}

func (c *Coordinator) onRefunded(ctx context.Context, ev paydomain.PaymentRefunded) error {
	ord, err := c.orders.MarkRefunded(ctx, ev.OrderID)
	switch {
	case errors.Is(err, orderdomain.ErrNotFound):
		c.log.Warn("refund for unknown order", "order_id", ev.OrderID, "refund_id", ev.RefundID)
		return nil
	case errors.Is(err, orderdomain.ErrInvalidState):
		// compensating refunds of attempts that never confirmed
		c.log.Info("refund does not apply to order", "order_id", ev.OrderID, "refund_id", ev.RefundID, "err", err)
		return nil
	case err != nil:
		return err
	}
	c.log.Info("order refund reconciled", "order_id", ord.ID, "refund_id", ev.RefundID)
	return nil
}
