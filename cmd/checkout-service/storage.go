package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/multistore-checkout/internal/config"
	"github.com/dmehra2102/multistore-checkout/internal/db"
	idemapp "github.com/dmehra2102/multistore-checkout/internal/idempotency/application"
	idemmemory "github.com/dmehra2102/multistore-checkout/internal/idempotency/infrastructure/memory"
	idempg "github.com/dmehra2102/multistore-checkout/internal/idempotency/infrastructure/postgres"
	invapp "github.com/dmehra2102/multistore-checkout/internal/inventory/application"
	invmemory "github.com/dmehra2102/multistore-checkout/internal/inventory/infrastructure/memory"
	invpg "github.com/dmehra2102/multistore-checkout/internal/inventory/infrastructure/postgres"
	orderapp "github.com/dmehra2102/multistore-checkout/internal/order/application"
	ordermemory "github.com/dmehra2102/multistore-checkout/internal/order/infrastructure/memory"
	orderpg "github.com/dmehra2102/multistore-checkout/internal/order/infrastructure/postgres"
	payapp "github.com/dmehra2102/multistore-checkout/internal/payment/application"
	paymemory "github.com/dmehra2102/multistore-checkout/internal/payment/infrastructure/memory"
	paypg "github.com/dmehra2102/multistore-checkout/internal/payment/infrastructure/postgres"
	resapp "github.com/dmehra2102/multistore-checkout/internal/reservation/application"
	resmemory "github.com/dmehra2102/multistore-checkout/internal/reservation/infrastructure/memory"
	respg "github.com/dmehra2102/multistore-checkout/internal/reservation/infrastructure/postgres"
	"github.com/dmehra2102/multistore-checkout/pkg/outbox"
	"github.com/dmehra2102/multistore-checkout/pkg/pgtx"
)

// storage is one set of repositories for the configured driver.
type storage struct {
	pool        *pgxpool.Pool
	tx          pgtx.Runner
	stock       invapp.StockRepository
	holds       resapp.Repository
	idempotency idemapp.Repository
	orders      orderapp.OrderRepository
	payments    payapp.PaymentRepository
	events      outbox.Appender
}

func (s *storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func openStorage(ctx context.Context, cfg config.Config, log *slog.Logger) (*storage, error) {
	if cfg.StorageDriver == config.DriverMemory {
		log.Warn("using in-memory storage, state is lost on restart")
		return &storage{
			tx:          pgtx.NopRunner{},
			stock:       invmemory.NewRepository(),
			holds:       resmemory.NewRepository(),
			idempotency: idemmemory.NewRepository(),
			orders:      ordermemory.NewRepository(),
			payments:    paymemory.NewRepository(),
			events:      &outbox.MemoryAppender{},
		}, nil
	}

	if cfg.RunMigrations {
		if err := db.RunMigrations(cfg.PGURL, log); err != nil {
			return nil, err
		}
	}
	pool, err := db.NewPool(ctx, cfg.PGURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &storage{
		pool:        pool,
		tx:          pgtx.NewRunner(log, pool),
		stock:       invpg.NewRepository(log, pool),
		holds:       respg.NewRepository(log, pool),
		idempotency: idempg.NewRepository(log, pool),
		orders:      orderpg.NewRepository(log, pool),
		payments:    paypg.NewRepository(log, pool),
		events:      outbox.NewPGAppender(pool),
	}, nil
}
