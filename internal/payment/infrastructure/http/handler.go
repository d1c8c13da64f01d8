package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/multistore-checkout/internal/payment/domain"
)

// Processor is the gateway side served over HTTP.
type Processor interface {
	Charge(ctx context.Context, req domain.ChargeRequest) (domain.ChargeResult, error)
	Refund(ctx context.Context, req domain.RefundRequest) (domain.RefundResult, error)
	Get(ctx context.Context, orderID string) (domain.Payment, error)
}

type Handler struct {
	log    *slog.Logger
	svc    Processor
	tracer trace.Tracer
}

func NewHandler(log *slog.Logger, svc Processor) *Handler {
	return &Handler{
		log:    log,
		svc:    svc,
		tracer: otel.Tracer("payment-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/charges", h.charge)
	r.Post("/v1/refunds", h.refund)
	r.Get("/v1/payments/{orderID}", h.get)
	return r
}

func (h *Handler) charge(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := h.tracer.Start(ctx, "Charge")
	defer span.End()

	var req domain.ChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	res, err := h.svc.Charge(ctx, req)
	if err != nil {
		h.fail(w, "charge", req.OrderID, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := h.tracer.Start(ctx, "Refund")
	defer span.End()

	var req domain.RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	res, err := h.svc.Refund(ctx, req)
	if err != nil {
		h.fail(w, "refund", req.OrderID, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	p, err := h.svc.Get(r.Context(), orderID)
	if err != nil {
		h.fail(w, "get", orderID, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) fail(w http.ResponseWriter, op, orderID string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNotRefundable), errors.Is(err, domain.ErrRefundTooHigh):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error("payment request failed", "op", op, "order_id", orderID, "err", err)
		writeError(w, http.StatusServiceUnavailable, "payment gateway unavailable")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
