package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmehra2102/multistore-checkout/internal/checkout/domain"
)

type compensation struct {
	name   string
	action func(ctx context.Context, cause *domain.Error) error
}

// saga records one compensation per completed forward step of a checkout
// attempt and runs them newest first when the attempt fails.
type saga struct {
	log           *slog.Logger
	orderID       string
	state         domain.SagaState
	compensations []compensation
}

func newSaga(log *slog.Logger, orderID string) *saga {
	return &saga{log: log, orderID: orderID, state: domain.StateStarted}
}

func (s *saga) advance(state domain.SagaState) { s.state = state }

func (s *saga) onFailure(name string, action func(ctx context.Context, cause *domain.Error) error) {
	s.compensations = append(s.compensations, compensation{name: name, action: action})
}

// compensate runs every recorded compensation even if some fail, on a
// context that outlives the caller's cancellation.
func (s *saga) compensate(ctx context.Context, cause *domain.Error) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(s.compensations) - 1; i >= 0; i-- {
		c := s.compensations[i]
		if err := c.action(ctx, cause); err != nil {
			s.log.Error("compensation failed",
				"order_id", s.orderID, "step", c.name, "state", s.state, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		s.log.Info("compensation done", "order_id", s.orderID, "step", c.name)
	}
	s.state = domain.StateCompensated
	return errors.Join(errs...)
}
