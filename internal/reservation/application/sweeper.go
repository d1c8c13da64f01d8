package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmehra2102/multistore-checkout/pkg/metrics"
)

// Sweeper periodically expires overdue holds and purges old terminal rows.
// Several replicas may run it at once; row locks keep them apart.
type Sweeper struct {
	log       *slog.Logger
	mgr       *Manager
	metrics   *metrics.Metrics
	interval  time.Duration
	batchSize int
	retention time.Duration
	purgeEach int
}

func NewSweeper(log *slog.Logger, mgr *Manager, m *metrics.Metrics, interval time.Duration, batchSize int, retention time.Duration) *Sweeper {
	return &Sweeper{
		log:       log,
		mgr:       mgr,
		metrics:   m,
		interval:  interval,
		batchSize: batchSize,
		retention: retention,
		purgeEach: 20,
	}
}

func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			s.log.Info("reservation sweeper stopping")
			return nil
		case <-t.C:
			s.sweep(ctx)
			tick++
			if tick%s.purgeEach == 0 {
				s.purge(ctx)
			}
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.mgr.SweepExpired(ctx, s.batchSize)
	if n > 0 {
		s.log.Info("expired reservations released", "count", n)
		if s.metrics != nil {
			s.metrics.ReservationsExpired.Add(float64(n))
		}
	}
	if err != nil {
		s.log.Error("reservation sweep failed", "err", err)
	}
}

func (s *Sweeper) purge(ctx context.Context) {
	n, err := s.mgr.PurgeTerminal(ctx, s.retention)
	if err != nil {
		s.log.Error("reservation purge failed", "err", err)
		return
	}
	if n > 0 {
		s.log.Info("terminal reservations purged", "count", n)
		if s.metrics != nil {
			s.metrics.ReservationsPurged.Add(float64(n))
		}
	}
}
