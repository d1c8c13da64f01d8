package application_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/multistore-checkout/internal/payment/application"
	"github.com/dmehra2102/multistore-checkout/internal/payment/domain"
	"github.com/dmehra2102/multistore-checkout/internal/payment/infrastructure/memory"
	"github.com/dmehra2102/multistore-checkout/pkg/logging"
	"github.com/dmehra2102/multistore-checkout/pkg/outbox"
	"github.com/dmehra2102/multistore-checkout/pkg/pgtx"
)

func newService() (*application.Service, *outbox.MemoryAppender) {
	events := &outbox.MemoryAppender{}
	return application.NewService(logging.Discard(), memory.NewRepository(), pgtx.NopRunner{}, events), events
}

func charge(orderID, amount, method string) domain.ChargeRequest {
	return domain.ChargeRequest{OrderID: orderID, UserID: "u1", Amount: decimal.RequireFromString(amount), Method: method}
}

func TestCharge(t *testing.T) {
	tests := []struct {
		name      string
		req       domain.ChargeRequest
		success   bool
		reason    string
		eventType string
	}{
		{name: "captured", req: charge("o1", "42.50", "card"), success: true, eventType: domain.EventCaptured},
		{name: "declined method", req: charge("o2", "10", "declined_card"), reason: "card declined", eventType: domain.EventDeclined},
		{name: "declined over limit", req: charge("o3", "10000.01", "card"), reason: "amount exceeds limit", eventType: domain.EventDeclined},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, events := newService()
			res, err := svc.Charge(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.success, res.Success)
			assert.Equal(t, tt.reason, res.Error)
			assert.NotEmpty(t, res.TransactionID)
			assert.Equal(t, []string{tt.eventType}, events.Types())
		})
	}
}

func TestCharge_InvalidRequest(t *testing.T) {
	svc, _ := newService()
	_, err := svc.Charge(context.Background(), charge("o1", "0", "card"))
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = svc.Charge(context.Background(), charge("o1", "5", ""))
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestCharge_IdempotentPerOrder(t *testing.T) {
	ctx := context.Background()
	svc, events := newService()

	first, err := svc.Charge(ctx, charge("o1", "20", "card"))
	require.NoError(t, err)
	second, err := svc.Charge(ctx, charge("o1", "20", "card"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, events.Events(), 1)
}

func TestRefund(t *testing.T) {
	ctx := context.Background()
	svc, events := newService()

	_, err := svc.Charge(ctx, charge("o1", "20", "card"))
	require.NoError(t, err)

	_, err = svc.Refund(ctx, domain.RefundRequest{OrderID: "o1", Amount: decimal.NewFromInt(25)})
	require.ErrorIs(t, err, domain.ErrRefundTooHigh)

	res, err := svc.Refund(ctx, domain.RefundRequest{OrderID: "o1", Reason: "customer cancelled"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.RefundID)

	again, err := svc.Refund(ctx, domain.RefundRequest{OrderID: "o1"})
	require.NoError(t, err)
	assert.Equal(t, res.RefundID, again.RefundID)

	p, err := svc.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, p.Status)
	assert.Equal(t, []string{domain.EventCaptured, domain.EventRefunded}, events.Types())
}

func TestRefund_Rejected(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()

	_, err := svc.Refund(ctx, domain.RefundRequest{OrderID: "missing"})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Charge(ctx, charge("o1", "20", "insufficient_funds"))
	require.NoError(t, err)
	_, err = svc.Refund(ctx, domain.RefundRequest{OrderID: "o1"})
	require.ErrorIs(t, err, domain.ErrNotRefundable)
}

func TestDecodeEvent(t *testing.T) {
	ev, err := domain.DecodeEvent(domain.EventRefunded, []byte(`{"orderId":"o1","refundId":"rf_1","amount":"12.5"}`))
	require.NoError(t, err)
	refunded, ok := ev.(domain.PaymentRefunded)
	require.True(t, ok)
	assert.Equal(t, "o1", refunded.Order())
	assert.True(t, refunded.Amount.Equal(decimal.RequireFromString("12.5")))

	_, err = domain.DecodeEvent(domain.EventRefunded, []byte(`{"orderId":"o1"}`))
	require.Error(t, err)

	_, err = domain.DecodeEvent("payment.unknown", []byte(`{}`))
	require.ErrorIs(t, err, domain.ErrUnknownEvent)
}
