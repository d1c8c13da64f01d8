// Package application runs checkout as a saga over the inventory,
// reservation, order and payment components, and owns the follow-up order
// operations that touch more than one of them.
package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/multistore-checkout/internal/cart"
	"github.com/dmehra2102/multistore-checkout/internal/checkout/domain"
	idemdomain "github.com/dmehra2102/multistore-checkout/internal/idempotency/domain"
	invdomain "github.com/dmehra2102/multistore-checkout/internal/inventory/domain"
	orderdomain "github.com/dmehra2102/multistore-checkout/internal/order/domain"
	payapp "github.com/dmehra2102/multistore-checkout/internal/payment/application"
	paydomain "github.com/dmehra2102/multistore-checkout/internal/payment/domain"
	resdomain "github.com/dmehra2102/multistore-checkout/internal/reservation/domain"
	"github.com/dmehra2102/multistore-checkout/pkg/metrics"
	"github.com/dmehra2102/multistore-checkout/pkg/pgtx"
)

const DefaultPaymentTimeout = 10 * time.Second

type Deps struct {
	Idempotency  Idempotency
	Carts        cart.Service
	Stock        StockChecker
	Reservations Reservations
	Orders       Orders
	Payments     payapp.Gateway
	Names        ProductNames
	Tx           pgtx.Runner
}

type Orchestrator struct {
	log            *slog.Logger
	idem           Idempotency
	carts          cart.Service
	stock          StockChecker
	reservations   Reservations
	orders         Orders
	payments       payapp.Gateway
	names          ProductNames
	tx             pgtx.Runner
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	paymentTimeout time.Duration
	newID          func() string
}

type Option func(*Orchestrator)

func WithPaymentTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.paymentTimeout = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

func New(log *slog.Logger, d Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		log:            log,
		idem:           d.Idempotency,
		carts:          d.Carts,
		stock:          d.Stock,
		reservations:   d.Reservations,
		orders:         d.Orders,
		payments:       d.Payments,
		names:          d.Names,
		tx:             d.Tx,
		tracer:         otel.Tracer("checkout"),
		paymentTimeout: DefaultPaymentTimeout,
		newID:          uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Checkout turns the user's cart for a store into a paid, confirmed order.
// Every failure is a *domain.Error; by the time it is returned all holds of
// the attempt are released and the idempotency key is marked failed.
func (o *Orchestrator) Checkout(ctx context.Context, req domain.Request) (domain.Receipt, error) {
	ctx, span := o.tracer.Start(ctx, "Checkout", trace.WithAttributes(
		attribute.String("user_id", req.UserID),
		attribute.String("store_id", req.StoreID),
	))
	defer span.End()

	receipt, err := o.checkout(ctx, req)
	outcome := "confirmed"
	switch {
	case err != nil:
		outcome = string(domain.KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	case receipt.Replayed:
		outcome = "replayed"
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	if o.metrics != nil {
		o.metrics.CheckoutOutcomes.WithLabelValues(outcome).Inc()
	}
	return receipt, err
}

func (o *Orchestrator) checkout(ctx context.Context, req domain.Request) (domain.Receipt, error) {
	if req.IdempotencyKey == "" {
		return domain.Receipt{}, domain.InvalidRequest(idemdomain.ErrMissingKey.Error())
	}
	if err := req.Validate(); err != nil {
		return domain.Receipt{}, err
	}
	fingerprint, err := idemdomain.Fingerprint(req)
	if err != nil {
		return domain.Receipt{}, domain.Unavailable("fingerprint request", err)
	}

	decision, err := o.idem.Claim(ctx, req.IdempotencyKey, req.UserID, fingerprint)
	switch {
	case errors.Is(err, idemdomain.ErrInProgress):
		return domain.Receipt{}, domain.IdempotencyConflict(err)
	case errors.Is(err, idemdomain.ErrKeyReused):
		return domain.Receipt{}, domain.IdempotencyKeyReused(err)
	case err != nil:
		return domain.Receipt{}, domain.Unavailable("claim idempotency key", err)
	}
	if decision.Replay {
		return replay(decision.Response)
	}

	orderID := o.newID()
	s := newSaga(o.log, orderID)
	receipt, err := o.run(ctx, req, orderID, decision.Attempt, s)
	if err == nil {
		return receipt, nil
	}

	failure := classify(err)
	if cerr := s.compensate(ctx, failure); cerr != nil {
		o.log.Error("checkout compensation incomplete", "order_id", orderID, "err", cerr)
	}
	ferr := o.idem.Fail(context.WithoutCancel(ctx), req.IdempotencyKey, req.UserID, decision.Attempt, string(failure.Kind), failure.Message)
	switch {
	case errors.Is(ferr, idemdomain.ErrNotHeld):
		o.log.Warn("idempotency key taken over by another attempt", "order_id", orderID, "user_id", req.UserID)
	case ferr != nil:
		o.log.Error("mark idempotency key failed", "order_id", orderID, "user_id", req.UserID, "err", ferr)
	}
	if failure.Kind == domain.KindUnavailable {
		o.log.Error("checkout failed", "order_id", orderID, "user_id", req.UserID, "store_id", req.StoreID, "err", failure)
	} else {
		o.log.Info("checkout rejected", "order_id", orderID, "user_id", req.UserID, "store_id", req.StoreID, "kind", failure.Kind, "reason", failure.Message)
	}
	return domain.Receipt{}, failure
}

func (o *Orchestrator) run(ctx context.Context, req domain.Request, orderID, attempt string, s *saga) (domain.Receipt, error) {
	c, err := o.carts.GetCartWithTotals(ctx, req.UserID, req.StoreID)
	if err != nil {
		return domain.Receipt{}, domain.Unavailable("load cart", err)
	}
	if err := o.validateCart(ctx, req.StoreID, c); err != nil {
		return domain.Receipt{}, err
	}

	holds, err := o.reserve(ctx, req, orderID, c.Items, s)
	if err != nil {
		return domain.Receipt{}, err
	}
	s.advance(domain.StateReserved)

	placed, err := o.orders.Place(ctx, o.newOrder(ctx, req, orderID, c))
	switch {
	case errors.Is(err, orderdomain.ErrNumberExhausted):
		return domain.Receipt{}, domain.Unavailable("could not allocate an order number", err)
	case err != nil:
		return domain.Receipt{}, domain.Unavailable("place order", err)
	}
	s.onFailure("fail order", func(ctx context.Context, cause *domain.Error) error {
		_, err := o.orders.MarkPaymentFailed(ctx, orderID, cause.Message)
		return err
	})
	s.advance(domain.StatePlaced)

	transactionID, err := o.charge(ctx, req, placed, s)
	if err != nil {
		return domain.Receipt{}, err
	}
	s.advance(domain.StatePaid)

	confirmed, body, err := o.finalize(ctx, req, orderID, attempt, holds, transactionID)
	if err != nil {
		return domain.Receipt{}, err
	}
	s.advance(domain.StateConfirmed)

	if err := o.carts.Clear(ctx, req.UserID, req.StoreID); err != nil {
		o.log.Warn("clear cart failed", "order_id", orderID, "user_id", req.UserID, "store_id", req.StoreID, "err", err)
	}
	o.log.Info("checkout confirmed", "order_id", orderID, "order_number", confirmed.OrderNumber,
		"user_id", req.UserID, "store_id", req.StoreID, "total", confirmed.Total.String())
	return domain.Receipt{Order: confirmed, Body: body}, nil
}

func (o *Orchestrator) validateCart(ctx context.Context, storeID string, c cart.Cart) error {
	if len(c.Items) == 0 {
		return domain.CartValidationFailed("cart is empty")
	}
	var reasons []string
	lines := make([]invdomain.Line, 0, len(c.Items))
	for _, l := range c.Items {
		if l.Quantity <= 0 {
			reasons = append(reasons, fmt.Sprintf("product %s: quantity must be positive", l.ProductID))
		}
		if l.PriceAtTime.IsNegative() {
			reasons = append(reasons, fmt.Sprintf("product %s: price must not be negative", l.ProductID))
		}
		lines = append(lines, invdomain.Line{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	if len(reasons) > 0 {
		return domain.CartValidationFailed(reasons...)
	}

	shortages, err := o.stock.CheckStock(ctx, storeID, lines)
	if err != nil {
		return domain.Unavailable("check stock", err)
	}
	for _, sh := range shortages {
		reasons = append(reasons, fmt.Sprintf("product %s: requested %d, available %d", sh.ProductID, sh.Requested, sh.Available))
	}
	if len(reasons) > 0 {
		return domain.CartValidationFailed(reasons...)
	}
	return nil
}

// reserve holds every cart line under orderID as the attempt id. Another
// checkout can still win the stock between validation and here.
func (o *Orchestrator) reserve(ctx context.Context, req domain.Request, orderID string, lines []cart.Line, s *saga) ([]string, error) {
	var ids []string
	s.onFailure("release holds", func(ctx context.Context, _ *domain.Error) error {
		return o.reservations.ReleaseAll(ctx, ids)
	})
	for _, l := range lines {
		r, err := o.reservations.Reserve(ctx, resdomain.Hold{
			StoreID:   req.StoreID,
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UserID:    req.UserID,
			AttemptID: orderID,
		})
		var short *invdomain.InsufficientStockError
		switch {
		case errors.As(err, &short):
			return ids, domain.InsufficientStock(short.ProductID, short.Available)
		case errors.Is(err, invdomain.ErrNotFound):
			return ids, domain.InsufficientStock(l.ProductID, 0)
		case err != nil:
			return ids, domain.Unavailable("reserve product "+l.ProductID, err)
		}
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (o *Orchestrator) newOrder(ctx context.Context, req domain.Request, orderID string, c cart.Cart) orderdomain.Order {
	ord := orderdomain.Order{
		ID:                  orderID,
		UserID:              req.UserID,
		StoreID:             req.StoreID,
		PaymentMethod:       req.PaymentMethod,
		DeliveryType:        req.DeliveryType,
		DeliveryAddress:     req.Address,
		SpecialInstructions: req.SpecialInstructions,
		Subtotal:            c.Subtotal,
		Tax:                 c.Tax,
		DeliveryFee:         c.DeliveryFee,
		Discount:            c.Discount,
		Total:               c.Total,
	}
	for _, l := range c.Items {
		ord.Items = append(ord.Items, orderdomain.Item{
			ID:          o.newID(),
			OrderID:     orderID,
			ProductID:   l.ProductID,
			ProductName: o.names.Resolve(ctx, l.ProductID),
			Quantity:    l.Quantity,
			UnitPrice:   l.PriceAtTime,
			LineTotal:   l.PriceAtTime.Mul(decimal.NewFromInt(int64(l.Quantity))),
		})
	}
	return ord
}

// charge calls the gateway under the payment timeout. A refund compensation
// is recorded whenever money may have moved, including when the outcome of
// the call is unknown.
func (o *Orchestrator) charge(ctx context.Context, req domain.Request, placed orderdomain.Order, s *saga) (string, error) {
	chargeCtx, cancel := context.WithTimeout(ctx, o.paymentTimeout)
	defer cancel()

	res, err := o.payments.Charge(chargeCtx, paydomain.ChargeRequest{
		OrderID:     placed.ID,
		OrderNumber: placed.OrderNumber,
		UserID:      placed.UserID,
		Amount:      placed.Total,
		Method:      req.PaymentMethod,
	})
	switch {
	case errors.Is(err, paydomain.ErrInvalidRequest):
		return "", domain.PaymentDeclined(err.Error())
	case err != nil:
		s.onFailure("refund payment", o.refundCompensation(placed))
		if errors.Is(err, context.DeadlineExceeded) {
			return "", domain.Unavailable("payment timed out", err)
		}
		return "", domain.Unavailable("payment gateway unavailable", err)
	case !res.Success:
		return "", domain.PaymentDeclined(res.Error)
	}
	s.onFailure("refund payment", o.refundCompensation(placed))
	return res.TransactionID, nil
}

func (o *Orchestrator) refundCompensation(placed orderdomain.Order) func(context.Context, *domain.Error) error {
	return func(ctx context.Context, cause *domain.Error) error {
		res, err := o.payments.Refund(ctx, paydomain.RefundRequest{
			OrderID: placed.ID,
			Amount:  placed.Total,
			Reason:  "checkout aborted: " + cause.Message,
		})
		switch {
		case errors.Is(err, paydomain.ErrNotFound), errors.Is(err, paydomain.ErrNotRefundable):
			// nothing was captured
			return nil
		case err != nil:
			return err
		case !res.Success:
			return fmt.Errorf("refund rejected: %s", res.Error)
		}
		return nil
	}
}

// finalize commits the attempt in one transaction: holds become used, the
// order is confirmed and the idempotency key completes with the order JSON.
func (o *Orchestrator) finalize(ctx context.Context, req domain.Request, orderID, attempt string, holds []string, transactionID string) (orderdomain.Order, json.RawMessage, error) {
	var (
		confirmed orderdomain.Order
		body      json.RawMessage
	)
	err := o.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := o.reservations.MarkUsed(ctx, holds, orderID); err != nil {
			return err
		}
		var err error
		if confirmed, err = o.orders.Confirm(ctx, orderID, transactionID); err != nil {
			return err
		}
		if body, err = json.Marshal(confirmed); err != nil {
			return err
		}
		return o.idem.Complete(ctx, req.IdempotencyKey, req.UserID, attempt, body)
	})
	switch {
	case errors.Is(err, idemdomain.ErrNotHeld):
		return orderdomain.Order{}, nil, domain.IdempotencyConflict(err)
	case errors.Is(err, resdomain.ErrNotActive):
		return orderdomain.Order{}, nil, domain.Unavailable("reservation expired before the order was confirmed", err)
	case err != nil:
		return orderdomain.Order{}, nil, domain.Unavailable("confirm order", err)
	}
	return confirmed, body, nil
}

func replay(body json.RawMessage) (domain.Receipt, error) {
	var ord orderdomain.Order
	if err := json.Unmarshal(body, &ord); err != nil {
		return domain.Receipt{}, domain.Unavailable("decode stored checkout response", err)
	}
	return domain.Receipt{Order: ord, Body: body, Replayed: true}, nil
}

func classify(err error) *domain.Error {
	var e *domain.Error
	if errors.As(err, &e) {
		return e
	}
	return domain.Unavailable("checkout failed", err)
}
