package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/dmehra2102/multistore-checkout/internal/cart"
	"github.com/dmehra2102/multistore-checkout/internal/catalog"
	checkoutapp "github.com/dmehra2102/multistore-checkout/internal/checkout/application"
	checkouthttp "github.com/dmehra2102/multistore-checkout/internal/checkout/infrastructure/http"
	"github.com/dmehra2102/multistore-checkout/internal/config"
	idemapp "github.com/dmehra2102/multistore-checkout/internal/idempotency/application"
	invapp "github.com/dmehra2102/multistore-checkout/internal/inventory/application"
	invgrpc "github.com/dmehra2102/multistore-checkout/internal/inventory/infrastructure/grpc"
	invhttp "github.com/dmehra2102/multistore-checkout/internal/inventory/infrastructure/http"
	orderapp "github.com/dmehra2102/multistore-checkout/internal/order/application"
	payapp "github.com/dmehra2102/multistore-checkout/internal/payment/application"
	payhttp "github.com/dmehra2102/multistore-checkout/internal/payment/infrastructure/http"
	paykafka "github.com/dmehra2102/multistore-checkout/internal/payment/infrastructure/kafka"
	resapp "github.com/dmehra2102/multistore-checkout/internal/reservation/application"
	"github.com/dmehra2102/multistore-checkout/pkg/dedup"
	"github.com/dmehra2102/multistore-checkout/pkg/logging"
	"github.com/dmehra2102/multistore-checkout/pkg/metrics"
	"github.com/dmehra2102/multistore-checkout/pkg/outbox"
	"github.com/dmehra2102/multistore-checkout/pkg/shutdown"
	"github.com/dmehra2102/multistore-checkout/pkg/tracing"
)

const (
	idempotencyRetention = 24 * time.Hour
	dedupTTL             = 24 * time.Hour
	// tax applied by the in-memory carts of a local run
	localTaxRate         = "0.08"
)

func main() {
	cfg := config.Load("checkout-service")
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
	m := metrics.New(reg, "checkout_service")

	st, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Error("storage init failed", "driver", cfg.StorageDriver, "err", err)
		os.Exit(1)
	}
	defer st.Close()

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
	}

	ledger := invapp.NewLedger(log, st.stock, m)
	holds := resapp.NewManager(log, st.holds, ledger, st.tx, resapp.WithTTL(cfg.ReservationTTL))
	idem := idemapp.NewStore(log, st.idempotency, st.tx, idemapp.WithLease(cfg.IdempotencyLease))
	orders := orderapp.NewService(log, st.orders, st.tx, st.events)

	var gateway payapp.Gateway
	if cfg.PaymentGatewayURL != "" {
		gateway = payhttp.NewClient(log, cfg.PaymentGatewayURL, cfg.PaymentTimeout)
	} else {
		log.Warn("PAYMENT_GATEWAY_URL not set, using the in-process simulated gateway")
		gateway = payapp.NewService(log, st.payments, st.tx, st.events)
	}

	var stock checkoutapp.StockChecker = ledger
	if cfg.InventoryGRPCAddr != "" {
		client, err := invgrpc.NewInventoryClient(log, cfg.InventoryGRPCAddr)
		if err != nil {
			log.Error("inventory grpc client init failed", "err", err)
			os.Exit(1)
		}
		defer client.Close()
		stock = client
	}

	api := chi.NewRouter()

	var carts cart.Service
	if cfg.CartURL != "" {
		carts = cart.NewHTTPClient(log, cfg.CartURL, cfg.UpstreamTimeout)
	} else {
		log.Warn("CART_URL not set, serving carts from memory")
		local := cart.NewMemory(decimal.RequireFromString(localTaxRate))
		api.Mount("/users/{userID}/carts/{storeID}", cart.NewHandler(local).Routes())
		carts = local
	}

	var lookup catalog.Lookup = catalog.Static{}
	if cfg.CatalogURL != "" {
		lookup = catalog.NewHTTPClient(cfg.CatalogURL, cfg.UpstreamTimeout)
		if rdb != nil {
			lookup = catalog.NewCached(log, lookup, rdb, cfg.CatalogCacheTTL)
		}
	}

	orch := checkoutapp.New(log, checkoutapp.Deps{
		Idempotency:  idem,
		Carts:        carts,
		Stock:        stock,
		Reservations: holds,
		Orders:       orders,
		Payments:     gateway,
		Names:        catalog.NewNames(log, lookup, time.Second),
		Tx:           st.tx,
	}, checkoutapp.WithPaymentTimeout(cfg.PaymentTimeout), checkoutapp.WithMetrics(m))

	api.Mount("/stores/{storeID}/inventory", invhttp.NewHandler(log, ledger).Routes())
	api.Mount("/", checkouthttp.NewHandler(log, orch).Routes())
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, m.Middleware)
	r.Mount("/api/v1", api)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if st.pool != nil {
			if err := st.pool.Ping(r.Context()); err != nil {
				http.Error(w, "postgres unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler(reg))

	if cfg.RunSweeper {
		sweeper := resapp.NewSweeper(log, holds, m, cfg.SweepInterval, cfg.SweepBatchSize, cfg.ReservationRetention)
		go func() { _ = sweeper.Run(ctx) }()
		go purgeIdempotency(ctx, log, idem)
	}

	if cfg.KafkaAddr != "" && st.pool != nil {
		brokers := strings.Split(cfg.KafkaAddr, ",")

		writer := outbox.NewWriter(brokers)
		defer writer.Close()
		relay := outbox.NewRelay(log,
			outbox.NewPGStore(log, st.pool, "order"),
			outbox.NewDispatcher(log, writer, cfg.OrderEventsTopic),
			cfg.Service+"-relay",
			outbox.WithCounter(m.OutboxEvents),
		)
		go func() {
			if err := relay.Run(ctx); err != nil {
				log.Error("relay stopped", "err", err)
			}
		}()

		if rdb != nil {
			consumer := paykafka.NewConsumer(log,
				paykafka.NewReader(brokers, cfg.PaymentEventsTopic, cfg.ConsumerGroup),
				checkoutapp.NewCoordinator(log, orders),
				dedup.NewStore(rdb, cfg.Service, dedupTTL),
				m.ConsumedEvents,
			)
			go func() {
				if err := consumer.Run(ctx); err != nil {
					log.Error("payment events consumer stopped", "err", err)
					cancel()
				}
			}()
		} else {
			log.Warn("REDIS_ADDR not set, payment events are not consumed")
		}
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.PaymentTimeout + 10*time.Second,
	}
	if err := shutdown.ServeHTTP(ctx, log, srv, cfg.ShutdownTimeout); err != nil {
		log.Error("http server error", "err", err)
	}
	log.Info("checkout-service shutdown complete")
}

func purgeIdempotency(ctx context.Context, log *slog.Logger, idem *idemapp.Store) {
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := idem.Purge(ctx, idempotencyRetention)
			if err != nil {
				log.Error("idempotency purge failed", "err", err)
				continue
			}
			if n > 0 {
				log.Info("idempotency records purged", "count", n)
			}
		}
	}
}
