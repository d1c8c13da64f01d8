package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmehra2102/multistore-checkout/internal/inventory/application"
	"github.com/dmehra2102/multistore-checkout/internal/inventory/domain"
)

type Handler struct {
	log    *slog.Logger
	ledger *application.Ledger
}

func NewHandler(log *slog.Logger, ledger *application.Ledger) *Handler {
	return &Handler{log: log, ledger: ledger}
}

type setStockReq struct {
	QuantityAvailable int   `json:"quantityAvailable"`
	IsAvailable       *bool `json:"isAvailable"`
	ReorderLevel      *int  `json:"reorderLevel"`
}

// Routes is mounted under /api/v1/stores/{storeID}/inventory.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/low-stock", h.lowStock)
	r.Get("/{productID}", h.get)
	r.Put("/{productID}", h.set)
	return r
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	key := domain.Key{StoreID: chi.URLParam(r, "storeID"), ProductID: chi.URLParam(r, "productID")}
	rec, err := h.ledger.Get(r.Context(), key)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.log.Error("get inventory failed", "store_id", key.StoreID, "product_id", key.ProductID, "err", err)
		writeError(w, http.StatusServiceUnavailable, "inventory unavailable")
		return
	}
	writeJSON(w, http.StatusOK, view(rec))
}

func (h *Handler) set(w http.ResponseWriter, r *http.Request) {
	var req setStockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	rec := domain.Record{
		StoreID:           chi.URLParam(r, "storeID"),
		ProductID:         chi.URLParam(r, "productID"),
		QuantityAvailable: req.QuantityAvailable,
		IsAvailable:       req.IsAvailable == nil || *req.IsAvailable,
		ReorderLevel:      req.ReorderLevel,
	}
	out, err := h.ledger.SetStock(r.Context(), rec)
	switch {
	case errors.Is(err, domain.ErrBelowReserved), errors.Is(err, domain.ErrInvalidQuantity):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		h.log.Error("set inventory failed", "store_id", rec.StoreID, "product_id", rec.ProductID, "err", err)
		writeError(w, http.StatusServiceUnavailable, "inventory unavailable")
		return
	}
	writeJSON(w, http.StatusOK, view(out))
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	records, err := h.ledger.LowStock(r.Context(), chi.URLParam(r, "storeID"))
	if err != nil {
		h.log.Error("low stock query failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, "inventory unavailable")
		return
	}
	out := make([]recordView, 0, len(records))
	for _, rec := range records {
		out = append(out, view(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

type recordView struct {
	domain.Record
	AvailableToSell int `json:"availableToSell"`
}

func view(rec domain.Record) recordView {
	return recordView{Record: rec, AvailableToSell: rec.AvailableToSell()}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
