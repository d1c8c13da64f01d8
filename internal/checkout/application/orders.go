package application

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/multistore-checkout/internal/checkout/domain"
	orderdomain "github.com/dmehra2102/multistore-checkout/internal/order/domain"
	paydomain "github.com/dmehra2102/multistore-checkout/internal/payment/domain"
	resdomain "github.com/dmehra2102/multistore-checkout/internal/reservation/domain"
)

// Cancel cancels an order the user owns; an empty userID skips the
// ownership check. Holds still tied to the order are returned in the same
// transaction. A paid order is refunded afterwards and stays refund_pending
// if the gateway cannot be reached.
func (o *Orchestrator) Cancel(ctx context.Context, orderID, userID, reason string) (orderdomain.Order, error) {
	ctx, span := o.tracer.Start(ctx, "CancelOrder", trace.WithAttributes(attribute.String("order_id", orderID)))
	defer span.End()

	if _, err := o.owned(ctx, orderID, userID); err != nil {
		return orderdomain.Order{}, err
	}
	if reason == "" {
		reason = "cancelled by customer"
	}

	var cancelled orderdomain.Order
	err := o.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if cancelled, err = o.orders.Cancel(ctx, orderID, reason); err != nil {
			return err
		}
		if _, err := o.reservations.ReleaseForOrder(ctx, orderID); err != nil {
			return err
		}
		_, err = o.reservations.SettleForOrder(ctx, orderID, resdomain.OutcomeCancelled)
		return err
	})
	if err != nil {
		return orderdomain.Order{}, orderError(err)
	}
	o.log.Info("order cancelled", "order_id", orderID, "reason", reason, "payment_status", cancelled.PaymentStatus)

	if cancelled.PaymentStatus == orderdomain.PaymentRefundPending {
		cancelled = o.refund(ctx, cancelled, reason)
	}
	return cancelled, nil
}

func (o *Orchestrator) refund(ctx context.Context, ord orderdomain.Order, reason string) orderdomain.Order {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.paymentTimeout)
	defer cancel()

	res, err := o.payments.Refund(ctx, paydomain.RefundRequest{OrderID: ord.ID, Amount: ord.Total, Reason: reason})
	if err != nil {
		o.log.Warn("refund failed, order stays refund_pending", "order_id", ord.ID, "err", err)
		return ord
	}
	if !res.Success {
		o.log.Warn("refund rejected, order stays refund_pending", "order_id", ord.ID, "reason", res.Error)
		return ord
	}
	refunded, err := o.orders.MarkRefunded(ctx, ord.ID)
	if err != nil {
		o.log.Error("mark order refunded", "order_id", ord.ID, "refund_id", res.RefundID, "err", err)
		return ord
	}
	return refunded
}

// UpdateStatus advances fulfilment. Completing an order deducts its held
// stock from the ledger.
func (o *Orchestrator) UpdateStatus(ctx context.Context, orderID string, next orderdomain.Status) (orderdomain.Order, error) {
	ctx, span := o.tracer.Start(ctx, "UpdateOrderStatus", trace.WithAttributes(
		attribute.String("order_id", orderID),
		attribute.String("status", string(next)),
	))
	defer span.End()

	var updated orderdomain.Order
	err := o.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if updated, err = o.orders.SetStatus(ctx, orderID, next); err != nil {
			return err
		}
		if next != orderdomain.StatusCompleted {
			return nil
		}
		n, err := o.reservations.SettleForOrder(ctx, orderID, resdomain.OutcomeFulfilled)
		if err == nil {
			o.log.Info("order fulfilled", "order_id", orderID, "settled_holds", n)
		}
		return err
	})
	if err != nil {
		return orderdomain.Order{}, orderError(err)
	}
	return updated, nil
}

func (o *Orchestrator) GetOrder(ctx context.Context, orderID, userID string) (orderdomain.Order, error) {
	return o.owned(ctx, orderID, userID)
}

func (o *Orchestrator) ListOrders(ctx context.Context, userID string, limit int) ([]orderdomain.Order, error) {
	orders, err := o.orders.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, domain.Unavailable("list orders", err)
	}
	return orders, nil
}

// owned hides orders of other users behind not_found.
func (o *Orchestrator) owned(ctx context.Context, orderID, userID string) (orderdomain.Order, error) {
	ord, err := o.orders.Get(ctx, orderID)
	if err != nil {
		return orderdomain.Order{}, orderError(err)
	}
	if userID != "" && ord.UserID != userID {
		return orderdomain.Order{}, domain.NotFound("order", orderdomain.ErrNotFound)
	}
	return ord, nil
}

func orderError(err error) *domain.Error {
	switch {
	case errors.Is(err, orderdomain.ErrNotFound):
		return domain.NotFound("order", err)
	case errors.Is(err, orderdomain.ErrInvalidState):
		return domain.InvalidOrderState(err)
	default:
		return domain.Unavailable("update order", err)
	}
}
