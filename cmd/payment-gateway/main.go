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

	"github.com/dmehra2102/multistore-checkout/internal/config"
	"github.com/dmehra2102/multistore-checkout/internal/db"
	payapp "github.com/dmehra2102/multistore-checkout/internal/payment/application"
	payhttp "github.com/dmehra2102/multistore-checkout/internal/payment/infrastructure/http"
	paymemory "github.com/dmehra2102/multistore-checkout/internal/payment/infrastructure/memory"
	paypg "github.com/dmehra2102/multistore-checkout/internal/payment/infrastructure/postgres"
	"github.com/dmehra2102/multistore-checkout/pkg/logging"
	"github.com/dmehra2102/multistore-checkout/pkg/metrics"
	"github.com/dmehra2102/multistore-checkout/pkg/outbox"
	"github.com/dmehra2102/multistore-checkout/pkg/pgtx"
	"github.com/dmehra2102/multistore-checkout/pkg/shutdown"
	"github.com/dmehra2102/multistore-checkout/pkg/tracing"
)

// payment-gateway is the simulated card processor used by checkout-service.
func main() {
	cfg := config.Load("payment-gateway")
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
	m := metrics.New(reg, "payment_gateway")

	var svc *payapp.Service
	if cfg.StorageDriver == config.DriverMemory {
		log.Warn("using in-memory storage, payments are lost on restart")
		svc = payapp.NewService(log, paymemory.NewRepository(), pgtx.NopRunner{}, &outbox.MemoryAppender{})
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

		svc = payapp.NewService(log, paypg.NewRepository(log, pool), pgtx.NewRunner(log, pool), outbox.NewPGAppender(pool))

		if cfg.KafkaAddr != "" {
			writer := outbox.NewWriter(strings.Split(cfg.KafkaAddr, ","))
			defer writer.Close()
			relay := outbox.NewRelay(log,
				outbox.NewPGStore(log, pool, "payment"),
				outbox.NewDispatcher(log, writer, cfg.PaymentEventsTopic),
				cfg.Service+"-relay",
				outbox.WithCounter(m.OutboxEvents),
			)
			go func() {
				if err := relay.Run(ctx); err != nil {
					log.Error("relay stopped", "err", err)
				}
			}()
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, m.Middleware)
	r.Mount("/", payhttp.NewHandler(log, svc).Routes())
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
	log.Info("payment-gateway shutdown complete")
}
