package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "checkout"

type Metrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec

	CheckoutOutcomes    *prometheus.CounterVec
	LedgerViolations    *prometheus.CounterVec
	ReservationsExpired prometheus.Counter
	ReservationsPurged  prometheus.Counter
	LowStockAlerts      *prometheus.CounterVec
	OutboxEvents        *prometheus.CounterVec
	ConsumedEvents      *prometheus.CounterVec
}

// New registers the service metrics on reg. Tests pass a fresh
// prometheus.NewRegistry() so that they never collide.
func New(reg prometheus.Registerer, service string) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
		CheckoutOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "checkout_outcomes_total",
			Help:      "Checkout attempts by outcome kind.",
		}, []string{"outcome"}),
		LedgerViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "ledger_invariant_violations_total",
			Help:      "Inventory ledger operations that had to be clamped.",
		}, []string{"kind"}),
		ReservationsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "reservations_expired_total",
			Help:      "Reservations released by the TTL sweeper.",
		}),
		ReservationsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "reservations_purged_total",
			Help:      "Terminal reservations removed after the retention window.",
		}),
		LowStockAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "low_stock_alerts_total",
			Help:      "Products found at or below their reorder level after an order.",
		}, []string{"store_id"}),
		OutboxEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "outbox_events_total",
			Help:      "Outbox events handled by the relay.",
		}, []string{"status"}),
		ConsumedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "consumed_events_total",
			Help:      "Broker events consumed by type and result.",
		}, []string{"type", "result"}),
	}

	reg.MustRegister(
		m.Requests, m.LatencyMS,
		m.CheckoutOutcomes, m.LedgerViolations,
		m.ReservationsExpired, m.ReservationsPurged, m.LowStockAlerts,
		m.OutboxEvents, m.ConsumedEvents,
	)
	return m
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Middleware records request count and latency labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		m.LatencyMS.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
	})
}
