package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmehra2102/multistore-checkout/internal/payment/domain"
	"github.com/dmehra2102/multistore-checkout/pkg/outbox"
	"github.com/dmehra2102/multistore-checkout/pkg/pgtx"
)

const aggregateType = "payment"

// Rule inspects a charge and returns a decline reason, or "" to accept it.
type Rule func(req domain.ChargeRequest) string

// AmountLimit declines charges above max.
func AmountLimit(max decimal.Decimal) Rule {
	return func(req domain.ChargeRequest) string {
		if req.Amount.GreaterThan(max) {
			return "amount exceeds limit"
		}
		return ""
	}
}

// DeclineMethods declines charges made with any of the given methods.
func DeclineMethods(methods ...string) Rule {
	return func(req domain.ChargeRequest) string {
		for _, m := range methods {
			if strings.EqualFold(req.Method, m) {
				return "card declined"
			}
		}
		return ""
	}
}

func DefaultRules() []Rule {
	return []Rule{
		AmountLimit(decimal.NewFromInt(10_000)),
		DeclineMethods("declined_card", "insufficient_funds"),
	}
}

// Service is the simulated payment gateway. Charges are idempotent per
// order: a second charge for an order answers with the stored outcome and
// never captures twice.
type Service struct {
	log    *slog.Logger
	repo   PaymentRepository
	tx     pgtx.Runner
	events outbox.Appender
	rules  []Rule
	now    func() time.Time
}

type Option func(*Service)

func WithRules(rules ...Rule) Option {
	return func(s *Service) { s.rules = rules }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(log *slog.Logger, repo PaymentRepository, tx pgtx.Runner, events outbox.Appender, opts ...Option) *Service {
	s := &Service{
		log:    log,
		repo:   repo,
		tx:     tx,
		events: events,
		rules:  DefaultRules(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Charge(ctx context.Context, req domain.ChargeRequest) (domain.ChargeResult, error) {
	if err := req.Validate(); err != nil {
		return domain.ChargeResult{}, err
	}

	existing, err := s.repo.GetByOrder(ctx, req.OrderID)
	switch {
	case err == nil:
		s.log.Info("charge replayed", "order_id", req.OrderID, "status", existing.Status)
		return existing.Result(), nil
	case !errors.Is(err, domain.ErrNotFound):
		return domain.ChargeResult{}, err
	}

	now := s.now()
	p := domain.Payment{
		ID:            uuid.NewString(),
		OrderID:       req.OrderID,
		UserID:        req.UserID,
		Amount:        req.Amount,
		Method:        req.Method,
		Status:        domain.StatusCaptured,
		TransactionID: "txn_" + uuid.NewString(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, rule := range s.rules {
		if reason := rule(req); reason != "" {
			p.Status = domain.StatusDeclined
			p.DeclineReason = reason
			break
		}
	}

	var result domain.ChargeResult
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		inserted, err := s.repo.Insert(ctx, p)
		if err != nil {
			return err
		}
		if !inserted {
			// lost a race with a concurrent charge for the same order
			winner, err := s.repo.GetByOrder(ctx, req.OrderID)
			if err != nil {
				return err
			}
			result = winner.Result()
			return nil
		}
		result = p.Result()

		var event domain.Event = domain.PaymentCaptured{OrderID: p.OrderID, UserID: p.UserID, TransactionID: p.TransactionID, Amount: p.Amount}
		if p.Status == domain.StatusDeclined {
			event = domain.PaymentDeclined{OrderID: p.OrderID, UserID: p.UserID, Amount: p.Amount, Reason: p.DeclineReason}
		}
		return s.append(ctx, event)
	})
	if err != nil {
		return domain.ChargeResult{}, fmt.Errorf("charge order %s: %w", req.OrderID, err)
	}

	s.log.Info("charge processed", "order_id", req.OrderID, "success", result.Success, "transaction_id", result.TransactionID)
	return result, nil
}

// Refund returns a captured payment. A zero amount refunds in full; refunding
// an already refunded payment answers with the original refund.
func (s *Service) Refund(ctx context.Context, req domain.RefundRequest) (domain.RefundResult, error) {
	if req.OrderID == "" {
		return domain.RefundResult{}, fmt.Errorf("%w: orderId is required", domain.ErrInvalidRequest)
	}
	if req.Amount.IsNegative() {
		return domain.RefundResult{}, domain.ErrInvalidAmount
	}

	var result domain.RefundResult
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetForUpdate(ctx, req.OrderID)
		if err != nil {
			return err
		}
		switch p.Status {
		case domain.StatusRefunded:
			result = domain.RefundResult{Success: true, RefundID: p.RefundID}
			return nil
		case domain.StatusDeclined:
			return domain.ErrNotRefundable
		}

		amount := req.Amount
		if amount.IsZero() {
			amount = p.Amount
		}
		if amount.GreaterThan(p.Amount) {
			return domain.ErrRefundTooHigh
		}

		p.Status = domain.StatusRefunded
		p.RefundID = "rf_" + uuid.NewString()
		p.UpdatedAt = s.now()
		if err := s.repo.Update(ctx, p); err != nil {
			return err
		}
		result = domain.RefundResult{Success: true, RefundID: p.RefundID}
		return s.append(ctx, domain.PaymentRefunded{
			OrderID:  p.OrderID,
			RefundID: p.RefundID,
			Amount:   amount,
			Reason:   req.Reason,
		})
	})
	if err != nil {
		return domain.RefundResult{}, fmt.Errorf("refund order %s: %w", req.OrderID, err)
	}

	s.log.Info("refund processed", "order_id", req.OrderID, "refund_id", result.RefundID)
	return result, nil
}

func (s *Service) Get(ctx context.Context, orderID string) (domain.Payment, error) {
	return s.repo.GetByOrder(ctx, orderID)
}

func (s *Service) append(ctx context.Context, event domain.Event) error {
	e, err := outbox.NewEvent(ctx, aggregateType, event.Order(), event.Type(), event)
	if err != nil {
		return err
	}
	e.Headers["source"] = "payment-gateway"
	return s.events.Append(ctx, e)
}
