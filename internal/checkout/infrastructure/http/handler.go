package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/multistore-checkout/internal/checkout/domain"
	orderdomain "github.com/dmehra2102/multistore-checkout/internal/order/domain"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderUserID is set by the authenticating gateway in front of the service.
	HeaderUserID = "X-User-ID"
)

type Service interface {
	Checkout(ctx context.Context, req domain.Request) (domain.Receipt, error)
	Cancel(ctx context.Context, orderID, userID, reason string) (orderdomain.Order, error)
	UpdateStatus(ctx context.Context, orderID string, next orderdomain.Status) (orderdomain.Order, error)
	GetOrder(ctx context.Context, orderID, userID string) (orderdomain.Order, error)
	ListOrders(ctx context.Context, userID string, limit int) ([]orderdomain.Order, error)
}

type Handler struct {
	log     *slog.Logger
	service Service
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("checkout-http"),
	}
}

type checkoutReq struct {
	DeliveryType        orderdomain.DeliveryType `json:"deliveryType"`
	Address             *orderdomain.Address     `json:"address"`
	SpecialInstructions string                   `json:"specialInstructions"`
	PaymentMethod       string                   `json:"paymentMethod"`
}

type cancelReq struct {
	Reason string `json:"reason"`
}

type statusReq struct {
	Status orderdomain.Status `json:"status"`
	Reason string             `json:"reason"`
}

// Routes is mounted under /api/v1.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/stores/{storeID}/checkout", h.checkout)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Post("/orders/{orderID}/cancel", h.cancel)
	r.Patch("/orders/{orderID}/status", h.updateStatus)
	r.Get("/users/{userID}/orders", h.listOrders)
	return r
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := h.tracer.Start(ctx, "CheckoutHTTP")
	defer span.End()

	var req checkoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, domain.InvalidRequest("invalid body"))
		return
	}

	receipt, err := h.service.Checkout(ctx, domain.Request{
		UserID:              r.Header.Get(HeaderUserID),
		StoreID:             chi.URLParam(r, "storeID"),
		DeliveryType:        req.DeliveryType,
		Address:             req.Address,
		SpecialInstructions: req.SpecialInstructions,
		PaymentMethod:       req.PaymentMethod,
		IdempotencyKey:      r.Header.Get(HeaderIdempotencyKey),
	})
	if err != nil {
		h.fail(w, err)
		return
	}

	status := http.StatusCreated
	if receipt.Replayed {
		status = http.StatusOK
		w.Header().Set("Idempotent-Replayed", "true")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(receipt.Body)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ord, err := h.service.GetOrder(r.Context(), chi.URLParam(r, "orderID"), r.Header.Get(HeaderUserID))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ord)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.fail(w, domain.InvalidRequest("invalid body"))
			return
		}
	}
	ord, err := h.service.Cancel(r.Context(), chi.URLParam(r, "orderID"), r.Header.Get(HeaderUserID), req.Reason)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ord)
}

// updateStatus is the store-side endpoint; cancelled is routed to Cancel
// so that holds and refunds are handled.
func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		h.fail(w, domain.InvalidRequest("status is required"))
		return
	}
	orderID := chi.URLParam(r, "orderID")

	var (
		ord orderdomain.Order
		err error
	)
	if req.Status == orderdomain.StatusCancelled {
		ord, err = h.service.Cancel(r.Context(), orderID, "", req.Reason)
	} else {
		ord, err = h.service.UpdateStatus(r.Context(), orderID, req.Status)
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ord)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if caller := r.Header.Get(HeaderUserID); caller != "" && caller != userID {
		h.fail(w, domain.NotFound("user", nil))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	orders, err := h.service.ListOrders(r.Context(), userID, limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	if orders == nil {
		orders = []orderdomain.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	var e *domain.Error
	if !errors.As(err, &e) {
		e = domain.Unavailable("internal error", err)
	}
	if e.Kind == domain.KindUnavailable {
		h.log.Error("request failed", "err", err)
		if e.Retryable() {
			w.Header().Set("Retry-After", "1")
		}
	}
	writeJSON(w, StatusFor(e.Kind), map[string]*domain.Error{"error": e})
}

// StatusFor maps a failure kind to its HTTP status.
func StatusFor(k domain.Kind) int {
	switch k {
	case domain.KindInvalidRequest:
		return http.StatusBadRequest
	case domain.KindCartValidation, domain.KindIdempotencyKeyReused:
		return http.StatusUnprocessableEntity
	case domain.KindInsufficientStock, domain.KindIdempotencyConflict, domain.KindInvalidOrderState:
		return http.StatusConflict
	case domain.KindPaymentDeclined:
		return http.StatusPaymentRequired
	case domain.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusServiceUnavailable
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
