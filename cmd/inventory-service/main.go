package main

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/dmehra2102/multistore-checkout/internal/config"
	"github.com/dmehra2102/multistore-checkout/internal/db"
	invapp "github.com/dmehra2102/multistore-checkout/internal/inventory/application"
	invgrpc "github.com/dmehra2102/multistore-checkout/internal/inventory/infrastructure/grpc"
	invhttp "github.com/dmehra2102/multistore-checkout/internal/inventory/infrastructure/http"
	invkafka "github.com/dmehra2102/multistore-checkout/internal/inventory/infrastructure/kafka"
	invmemory "github.com/dmehra2102/multistore-checkout/internal/inventory/infrastructure/memory"
	invpg "github.com/dmehra2102/multistore-checkout/internal/inventory/infrastructure/postgres"
	paykafka "github.com/dmehra2102/multistore-checkout/internal/payment/infrastructure/kafka"
	resapp "github.com/dmehra2102/multistore-checkout/internal/reservation/application"
	respg "github.com/dmehra2102/multistore-checkout/internal/reservation/infrastructure/postgres"
	"github.com/dmehra2102/multistore-checkout/pkg/dedup"
	"github.com/dmehra2102/multistore-checkout/pkg/logging"
	"github.com/dmehra2102/multistore-checkout/pkg/metrics"
	"github.com/dmehra2102/multistore-checkout/pkg/pgtx"
	"github.com/dmehra2102/multistore-checkout/pkg/shutdown"
	"github.com/dmehra2102/multistore-checkout/pkg/tracing"
)

// inventory-service owns the stock ledger for store operators. It serves
// stock checks over gRPC, sweeps expired holds so checkout replicas do not
// have to, and reports low stock after confirmed orders.
func main() {
	cfg := config.Load("inventory-service")
	log := logging.New(cfg.LogLevel).With("service", cfg.Service)
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, cfg.Service, cfg.OTLPEndpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.WithoutCancel(ctx)) }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, "inventory_service")

	var ledger *invapp.Ledger
	if cfg.StorageDriver == config.DriverMemory {
		log.Warn("using in-memory storage, stock is lost on restart")
		ledger = invapp.NewLedger(log, invmemory.NewRepository(), m)
	} else {
		if cfg.RunMigrations {
			if err := db.RunMigrations(cfg.PGURL, log); err != nil {
				log.Error("migrations failed", "err", err)
				os.Exit(1)
			}
		}
		pool, err := db.NewPool(ctx, cfg.PGURL)
		if err != nil {
			log.Error("pg connect failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()

		ledger = invapp.NewLedger(log, invpg.NewRepository(log, pool), m)

		if cfg.RunSweeper {
			holds := resapp.NewManager(log, respg.NewRepository(log, pool), ledger, pgtx.NewRunner(log, pool), resapp.WithTTL(cfg.ReservationTTL))
			sweeper := resapp.NewSweeper(log, holds, m, cfg.SweepInterval, cfg.SweepBatchSize, cfg.ReservationRetention)
			go func() { _ = sweeper.Run(ctx) }()
		}
	}

	gs, err := invgrpc.Run(cfg.GRPCAddr, invgrpc.NewServer(log, ledger))
	if err != nil {
		log.Error("grpc server failed", "err", err)
		os.Exit(1)
	}
	defer gs.GracefulStop()
	log.Info("grpc server started", "addr", cfg.GRPCAddr)

	if cfg.KafkaAddr != "" {
		var seen invkafka.Deduper
		if cfg.RedisAddr != "" {
			rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
			defer rdb.Close()
			seen = dedup.NewStore(rdb, cfg.Service, 24*time.Hour)
		}
		monitor := invkafka.NewLowStockMonitor(log,
			paykafka.NewReader(strings.Split(cfg.KafkaAddr, ","), cfg.OrderEventsTopic, cfg.ConsumerGroup),
			ledger, seen, m.LowStockAlerts,
		)
		go func() {
			if err := monitor.Run(ctx); err != nil {
				log.Error("low stock monitor stopped", "err", err)
			}
		}()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, m.Middleware)
	r.Mount("/api/v1/stores/{storeID}/inventory", invhttp.NewHandler(log, ledger).Routes())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", metrics.Handler(reg))

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	if err := shutdown.ServeHTTP(ctx, log, srv, cfg.ShutdownTimeout); err != nil {
		log.Error("http server error", "err", err)
	}
	log.Info("inventory-service shutdown complete")
}
