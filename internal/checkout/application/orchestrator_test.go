package application_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/dmehra2102/multistore-checkout/internal/cart"
	"github.com/dmehra2102/multistore-checkout/internal/catalog"
	"github.com/dmehra2102/multistore-checkout/internal/checkout/application"
	"github.com/dmehra2102/multistore-checkout/internal/checkout/domain"
	idemapp "github.com/dmehra2102/multistore-checkout/internal/idempotency/application"
	idemdomain "github.com/dmehra2102/multistore-checkout/internal/idempotency/domain"
	idemmemory "github.com/dmehra2102/multistore-checkout/internal/idempotency/infrastructure/memory"
	invapp "github.com/dmehra2102/multistore-checkout/internal/inventory/application"
	invdomain "github.com/dmehra2102/multistore-checkout/internal/inventory/domain"
	invmemory "github.com/dmehra2102/multistore-checkout/internal/inventory/infrastructure/memory"
	orderapp "github.com/dmehra2102/multistore-checkout/internal/order/application"
	orderdomain "github.com/dmehra2102/multistore-checkout/internal/order/domain"
	ordermemory "github.com/dmehra2102/multistore-checkout/internal/order/infrastructure/memory"
	payapp "github.com/dmehra2102/multistore-checkout/internal/payment/application"
	paydomain "github.com/dmehra2102/multistore-checkout/internal/payment/domain"
	paymemory "github.com/dmehra2102/multistore-checkout/internal/payment/infrastructure/memory"
	resapp "github.com/dmehra2102/multistore-checkout/internal/reservation/application"
	resdomain "github.com/dmehra2102/multistore-checkout/internal/reservation/domain"
	resmemory "github.com/dmehra2102/multistore-checkout/internal/reservation/infrastructure/memory"
	"github.com/dmehra2102/multistore-checkout/pkg/logging"
	"github.com/dmehra2102/multistore-checkout/pkg/metrics"
	"github.com/dmehra2102/multistore-checkout/pkg/outbox"
	"github.com/dmehra2102/multistore-checkout/pkg/pgtx"
)

const (
	store   = "store-1"
	product = "sku-1"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// gateway wraps the in-process payment service so tests can hook charges.
type gateway struct {
	payapp.Gateway
	onCharge func(ctx context.Context) error
	charges  atomic.Int32
}

func (g *gateway) Charge(ctx context.Context, req paydomain.ChargeRequest) (paydomain.ChargeResult, error) {
	g.charges.Add(1)
	if g.onCharge != nil {
		if err := g.onCharge(ctx); err != nil {
			return paydomain.ChargeResult{}, err
		}
	}
	return g.Gateway.Charge(ctx, req)
}

// barrier releases stock check results only once n callers have checked, so
// that they all validate before any of them reserves.
type barrier struct {
	next application.StockChecker
	wg   sync.WaitGroup
}

func newBarrier(next application.StockChecker, n int) *barrier {
	b := &barrier{next: next}
	b.wg.Add(n)
	return b
}

func (b *barrier) CheckStock(ctx context.Context, storeID string, lines []invdomain.Line) ([]invdomain.Shortage, error) {
	shortages, err := b.next.CheckStock(ctx, storeID, lines)
	b.wg.Done()
	b.wg.Wait()
	return shortages, err
}

type CheckoutSuite struct {
	suite.Suite
	ctx      context.Context
	clock    *clock
	ledger   *invapp.Ledger
	holds    *resapp.Manager
	holdRepo *resmemory.Repository
	idemRepo *idemmemory.Repository
	idem     *idemapp.Store
	orders   *orderapp.Service
	events   *outbox.MemoryAppender
	payments *payapp.Service
	gateway  *gateway
	carts    *cart.Memory
	metrics  *metrics.Metrics
	stock    application.StockChecker
	orch     *application.Orchestrator
}

func TestCheckoutSuite(t *testing.T) {
	suite.Run(t, new(CheckoutSuite))
}

func (s *CheckoutSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	log := logging.Discard()

	s.ledger = invapp.NewLedger(log, invmemory.NewRepository(invdomain.Record{
		StoreID: store, ProductID: product, QuantityAvailable: 5, IsAvailable: true,
	}), nil)
	s.holdRepo = resmemory.NewRepository()
	s.holds = resapp.NewManager(log, s.holdRepo, s.ledger, pgtx.NopRunner{}, resapp.WithClock(s.clock.Now))
	s.idemRepo = idemmemory.NewRepository()
	s.idem = idemapp.NewStore(log, s.idemRepo, pgtx.NopRunner{}, idemapp.WithClock(s.clock.Now))
	s.events = &outbox.MemoryAppender{}
	s.orders = orderapp.NewService(log, ordermemory.NewRepository(), pgtx.NopRunner{}, s.events, orderapp.WithClock(s.clock.Now))
	s.payments = payapp.NewService(log, paymemory.NewRepository(), pgtx.NopRunner{}, &outbox.MemoryAppender{})
	s.gateway = &gateway{Gateway: s.payments}
	s.carts = cart.NewMemory(decimal.RequireFromString("0.10"))
	s.metrics = metrics.New(prometheus.NewRegistry(), "test")
	s.stock = s.ledger
	s.build()
}

func (s *CheckoutSuite) build(opts ...application.Option) {
	opts = append([]application.Option{application.WithMetrics(s.metrics)}, opts...)
	s.orch = application.New(logging.Discard(), application.Deps{
		Idempotency:  s.idem,
		Carts:        s.carts,
		Stock:        s.stock,
		Reservations: s.holds,
		Orders:       s.orders,
		Payments:     s.gateway,
		Names:        catalog.NewNames(logging.Discard(), catalog.Static{product: "Flat White"}, time.Second),
		Tx:           pgtx.NopRunner{},
	}, opts...)
}

func (s *CheckoutSuite) addToCart(user string, qty int) {
	s.carts.Add(user, store, product, qty, decimal.RequireFromString("4.50"))
}

func request(user, key, method string) domain.Request {
	return domain.Request{
		UserID:         user,
		StoreID:        store,
		DeliveryType:   orderdomain.DeliveryPickup,
		PaymentMethod:  method,
		IdempotencyKey: key,
	}
}

func (s *CheckoutSuite) stockRecord() invdomain.Record {
	rec, err := s.ledger.Get(s.ctx, invdomain.Key{StoreID: store, ProductID: product})
	s.Require().NoError(err)
	return rec
}

func (s *CheckoutSuite) idemStatus(key, user string) idemdomain.Status {
	rec, err := s.idemRepo.GetForUpdate(s.ctx, key, user)
	s.Require().NoError(err)
	return rec.Status
}

func (s *CheckoutSuite) onlyOrder(user string) orderdomain.Order {
	orders, err := s.orders.ListByUser(s.ctx, user, 0)
	s.Require().NoError(err)
	s.Require().Len(orders, 1)
	return orders[0]
}

func (s *CheckoutSuite) holdsFor(orderID string, status resdomain.Status) []resdomain.Reservation {
	rs, err := s.holdRepo.ListForOrder(s.ctx, orderID, status)
	s.Require().NoError(err)
	return rs
}

func (s *CheckoutSuite) requireKind(err error, kind domain.Kind) *domain.Error {
	var e *domain.Error
	s.Require().ErrorAs(err, &e)
	s.Require().Equal(kind, e.Kind, e.Error())
	return e
}

func (s *CheckoutSuite) TestConfirmsOrder() {
	s.addToCart("u1", 2)

	receipt, err := s.orch.Checkout(s.ctx, request("u1", "k1", "card"))
	s.Require().NoError(err)
	s.False(receipt.Replayed)

	ord := receipt.Order
	s.Equal(orderdomain.StatusConfirmed, ord.Status)
	s.Equal(orderdomain.PaymentPaid, ord.PaymentStatus)
	s.NotEmpty(ord.TransactionID)
	s.Regexp(`^ORD-20260301-[0-9A-Z]{8}$`, ord.OrderNumber)
	s.Require().Len(ord.Items, 1)
	s.Equal("Flat White", ord.Items[0].ProductName)
	s.Equal("9.00", ord.Subtotal.StringFixed(2))
	s.Equal("0.90", ord.Tax.StringFixed(2))
	s.Equal("9.90", ord.Total.StringFixed(2))
	s.NotEmpty(receipt.Body)

	s.Len(s.holdsFor(ord.ID, resdomain.StatusUsed), 1)
	s.Equal(2, s.stockRecord().ReservedQuantity)
	s.Equal(idemdomain.StatusCompleted, s.idemStatus("k1", "u1"))
	s.Contains(s.events.Types(), orderdomain.EventConfirmed)

	c, err := s.carts.GetCartWithTotals(s.ctx, "u1", store)
	s.Require().NoError(err)
	s.Empty(c.Items)

	payment, err := s.payments.Get(s.ctx, ord.ID)
	s.Require().NoError(err)
	s.Equal(paydomain.StatusCaptured, payment.Status)
	s.True(payment.Amount.Equal(ord.Total))

	s.Equal(1.0, testutil.ToFloat64(s.metrics.CheckoutOutcomes.WithLabelValues("confirmed")))
}

func (s *CheckoutSuite) TestReplayReturnsSameOrder() {
	s.addToCart("u1", 2)
	first, err := s.orch.Checkout(s.ctx, request("u1", "k1", "card"))
	s.Require().NoError(err)

	// the cart is gone by now; a replay must not look at it
	second, err := s.orch.Checkout(s.ctx, request("u1", "k1", "card"))
	s.Require().NoError(err)

	s.True(second.Replayed)
	s.Equal(first.Order.ID, second.Order.ID)
	s.Equal(first.Order.OrderNumber, second.Order.OrderNumber)
	s.JSONEq(string(first.Body), string(second.Body))
	s.Equal(int32(1), s.gateway.charges.Load())
	s.Equal(2, s.stockRecord().ReservedQuantity)
	s.onlyOrder("u1")
	s.Equal(1.0, testutil.ToFloat64(s.metrics.CheckoutOutcomes.WithLabelValues("replayed")))
}

func (s *CheckoutSuite) TestKeyReusedWithDifferentBody() {
	s.addToCart("u1", 1)
	_, err := s.orch.Checkout(s.ctx, request("u1", "k1", "card"))
	s.Require().NoError(err)

	_, err = s.orch.Checkout(s.ctx, request("u1", "k1", "wallet"))
	s.requireKind(err, domain.KindIdempotencyKeyReused)
}

func (s *CheckoutSuite) TestKeyInProgress() {
	req := request("u1", "k1", "card")
	fp, err := idemdomain.Fingerprint(req)
	s.Require().NoError(err)
	_, err = s.idem.Claim(s.ctx, "k1", "u1", fp)
	s.Require().NoError(err)

	s.addToCart("u1", 1)
	_, err = s.orch.Checkout(s.ctx, req)
	e := s.requireKind(err, domain.KindIdempotencyConflict)
	s.True(e.Retryable())
	s.Equal(0, s.stockRecord().ReservedQuantity)
}

func (s *CheckoutSuite) TestDeclineUnwindsAndAllowsRetry() {
	s.addToCart("u1", 2)

	_, err := s.orch.Checkout(s.ctx, request("u1", "k1", "declined_card"))
	e := s.requireKind(err, domain.KindPaymentDeclined)
	s.Equal("card declined", e.Message)

	failed := s.onlyOrder("u1")
	s.Equal(orderdomain.StatusFailed, failed.Status)
	s.Equal(orderdomain.PaymentFailed, failed.PaymentStatus)
	s.Len(s.holdsFor(failed.ID, resdomain.StatusReleased), 1)
	s.Empty(s.holdsFor(failed.ID, resdomain.StatusUsed))
	s.Empty(s.holdsFor(failed.ID, resdomain.StatusReserved))
	s.Equal(0, s.stockRecord().ReservedQuantity)
	s.Equal(idemdomain.StatusFailed, s.idemStatus("k1", "u1"))
	s.Contains(s.events.Types(), orderdomain.EventPaymentFailed)

	c, err := s.carts.GetCartWithTotals(s.ctx, "u1", store)
	s.Require().NoError(err)
	s.Len(c.Items, 1, "cart is kept after a failed checkout")

	receipt, err := s.orch.Checkout(s.ctx, request("u1", "k1", "card"))
	s.Require().NoError(err)
	s.NotEqual(failed.ID, receipt.Order.ID)
	s.Equal(orderdomain.StatusConfirmed, receipt.Order.Status)
	s.Equal(2, s.stockRecord().ReservedQuantity)
	s.Equal(idemdomain.StatusCompleted, s.idemStatus("k1", "u1"))
}

func (s *CheckoutSuite) TestOrderNumberExhaustedUnwinds() {
	s.orders = orderapp.NewService(logging.Discard(), ordermemory.NewRepository(), pgtx.NopRunner{}, s.events,
		orderapp.WithClock(s.clock.Now), orderapp.WithNumberGenerator(func(time.Time) string { return "ORD-SAME" }))
	s.build()
	s.addToCart("u1", 1)
	s.addToCart("u2", 2)

	_, err := s.orch.Checkout(s.ctx, request("u1", "k1", "card"))
	s.Require().NoError(err)

	_, err = s.orch.Checkout(s.ctx, request("u2", "k2", "card"))
	e := s.requireKind(err, domain.KindUnavailable)
	s.Equal("could not allocate an order number", e.Message)
	s.ErrorIs(err, orderdomain.ErrNumberExhausted)
	s.True(e.Retryable())
	s.Equal(1, s.stockRecord().ReservedQuantity)
	s.Equal(idemdomain.StatusFailed, s.idemStatus("k2", "u2"))
}

func (s *CheckoutSuite) TestEmptyCart() {
	_, err := s.orch.Checkout(s.ctx, request("u1", "k1", "card"))
	e := s.requireKind(err, domain.KindCartValidation)
	s.Equal([]string{"cart is empty"}, e.Reasons)
	s.Equal(idemdomain.StatusFailed, s.idemStatus("k1", "u1"))
}

func (s *CheckoutSuite) TestShortageFailsValidation() {
	s.addToCart("u1", 6)
	s.carts.Add("u1", store, "sku-missing", 1, decimal.RequireFromString("1.00"))

	_, err := s.orch.Checkout(s.ctx, request("u1", "k1", "card"))
	e := s.requireKind(err, domain.KindCartValidation)
	s.Equal([]string{
		"product sku-1: requested 6, available 5",
		"product sku-missing: requested 1, available 0",
	}, e.Reasons)
	s.Equal(0, s.stockRecord().ReservedQuantity)
}

func (s *CheckoutSuite) TestInvalidRequest() {
	s.addToCart("u1", 1)

	_, err := s.orch.Checkout(s.ctx, request("u1", "", "card"))
	s.requireKind(err, domain.KindInvalidRequest)

	req := request("u1", "k1", "card")
	req.DeliveryType = orderdomain.DeliveryDelivery
	_, err = s.orch.Checkout(s.ctx, req)
	s.requireKind(err, domain.KindInvalidRequest)
	s.Equal(int32(0), s.gateway.charges.Load())
}

// Both attempts pass validation before either reserves; the ledger decides.
func (s *CheckoutSuite) TestConcurrentAttemptsRaceForStock() {
	s.stock = newBarrier(s.ledger, 2)
	s.build()
	s.addToCart("u1", 3)
	s.addToCart("u2", 3)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, user := range []string{"u1", "u2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.orch.Checkout(s.ctx, request(user, "k-"+user, "card"))
		}()
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		e := s.requireKind(err, domain.KindInsufficientStock)
		s.Equal(product, e.ProductID)
		s.Require().NotNil(e.Available)
		s.Equal(2, *e.Available)
		rejected++
	}
	s.Equal(1, ok)
	s.Equal(1, rejected)
	s.Equal(3, s.stockRecord().ReservedQuantity)
}

func (s *CheckoutSuite) TestNoOversellUnderLoad() {
	const users = 12
	for i := range users {
		s.addToCart(fmt.Sprintf("u%d", i), 1)
	}

	var (
		wg        sync.WaitGroup
		confirmed atomic.Int32
	)
	for i := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			user := fmt.Sprintf("u%d", i)
			_, err := s.orch.Checkout(s.ctx, request(user, "k", "card"))
			if err == nil {
				confirmed.Add(1)
				return
			}
			kind := domain.KindOf(err)
			if kind != domain.KindInsufficientStock && kind != domain.KindCartValidation {
				s.Failf("unexpected failure", "%s: %v", user, err)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(5), confirmed.Load())
	rec := s.stockRecord()
	s.Equal(5, rec.ReservedQuantity)
	s.LessOrEqual(rec.ReservedQuantity, rec.QuantityAvailable)
}

func (s *CheckoutSuite) TestPaymentTimeoutUnwinds() {
	s.gateway.onCharge = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	s.build(application.WithPaymentTimeout(20 * time.Millisecond))
	s.addToCart("u1", 2)

	_, err := s.orch.Checkout(s.ctx, request("u1", "k1", "card"))
	e := s.requireKind(err, domain.KindUnavailable)
	s.True(errors.Is(err, context.DeadlineExceeded))
	s.True(e.Retryable())

	ord := s.onlyOrder("u1")
	s.Equal(orderdomain.StatusFailed, ord.Status)
	s.Equal(0, s.stockRecord().ReservedQuantity)
	s.Equal(idemdomain.StatusFailed, s.idemStatus("k1", "u1"))
	_, err = s.payments.Get(s.ctx, ord.ID)
	s.ErrorIs(err, paydomain.ErrNotFound)
}

// A hold swept while the charge is in flight cannot be marked used, so the
// captured payment is refunded.
func (s *CheckoutSuite) TestExpiredHoldRefundsCharge() {
	s.gateway.onCharge = func(ctx context.Context) error {
		s.clock.Advance(resapp.DefaultTTL + time.Second)
		_, err := s.holds.SweepExpired(ctx, 10)
		return err
	}
	s.addToCart("u1", 2)

	_, err := s.orch.Checkout(s.ctx, request("u1", "k1", "card"))
	s.requireKind(err, domain.KindUnavailable)
	s.ErrorIs(err, resdomain.ErrNotActive)

	ord := s.onlyOrder("u1")
	s.Equal(orderdomain.StatusFailed, ord.Status)
	s.Len(s.holdsFor(ord.ID, resdomain.StatusExpired), 1)
	s.Equal(0, s.stockRecord().ReservedQuantity)

	payment, err := s.payments.Get(s.ctx, ord.ID)
	s.Require().NoError(err)
	s.Equal(paydomain.StatusRefunded, payment.Status)
	s.Equal(idemdomain.StatusFailed, s.idemStatus("k1", "u1"))
}

func (s *CheckoutSuite) TestCancelRefundsAndReturnsStock() {
	s.addToCart("u1", 2)
	receipt, err := s.orch.Checkout(s.ctx, request("u1", "k1", "card"))
	s.Require().NoError(err)
	id := receipt.Order.ID

	_, err = s.orch.Cancel(s.ctx, id, "u2", "")
	s.requireKind(err, domain.KindNotFound)

	cancelled, err := s.orch.Cancel(s.ctx, id, "u1", "changed my mind")
	s.Require().NoError(err)
	s.Equal(orderdomain.StatusCancelled, cancelled.Status)
	s.Equal(orderdomain.PaymentRefunded, cancelled.PaymentStatus)
	s.Equal("changed my mind", cancelled.CancelReason)
	s.Equal(0, s.stockRecord().ReservedQuantity)
	s.Equal(5, s.stockRecord().QuantityAvailable)
	s.Contains(s.events.Types(), orderdomain.EventCancelled)

	payment, err := s.payments.Get(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(paydomain.StatusRefunded, payment.Status)

	_, err = s.orch.Cancel(s.ctx, id, "u1", "")
	s.requireKind(err, domain.KindInvalidOrderState)
	s.Equal(0, s.stockRecord().ReservedQuantity)
}

func (s *CheckoutSuite) TestFulfilmentDeductsStock() {
	s.addToCart("u1", 2)
	receipt, err := s.orch.Checkout(s.ctx, request("u1", "k1", "card"))
	s.Require().NoError(err)
	id := receipt.Order.ID

	_, err = s.orch.UpdateStatus(s.ctx, id, orderdomain.StatusCompleted)
	s.requireKind(err, domain.KindInvalidOrderState)

	for _, next := range []orderdomain.Status{orderdomain.StatusPreparing, orderdomain.StatusReady, orderdomain.StatusCompleted} {
		ord, err := s.orch.UpdateStatus(s.ctx, id, next)
		s.Require().NoError(err)
		s.Equal(next, ord.Status)
	}
	rec := s.stockRecord()
	s.Equal(3, rec.QuantityAvailable)
	s.Equal(0, rec.ReservedQuantity)

	_, err = s.orch.Cancel(s.ctx, id, "", "")
	s.requireKind(err, domain.KindInvalidOrderState)

	_, err = s.orch.UpdateStatus(s.ctx, "missing", orderdomain.StatusPreparing)
	s.requireKind(err, domain.KindNotFound)
}

func (s *CheckoutSuite) TestGetAndListOrders() {
	s.addToCart("u1", 1)
	receipt, err := s.orch.Checkout(s.ctx, request("u1", "k1", "card"))
	s.Require().NoError(err)

	got, err := s.orch.GetOrder(s.ctx, receipt.Order.ID, "u1")
	s.Require().NoError(err)
	s.Equal(receipt.Order.OrderNumber, got.OrderNumber)

	_, err = s.orch.GetOrder(s.ctx, receipt.Order.ID, "u2")
	s.requireKind(err, domain.KindNotFound)

	list, err := s.orch.ListOrders(s.ctx, "u1", 10)
	s.Require().NoError(err)
	s.Len(list, 1)
}
