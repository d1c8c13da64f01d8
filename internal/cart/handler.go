package cart

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// Handler serves a Memory cart over the same API HTTPClient consumes, so a
// checkout-service without an external cart service can still be driven
// end to end.
type Handler struct {
	carts *Memory
}

func NewHandler(carts *Memory) *Handler {
	return &Handler{carts: carts}
}

type addItemReq struct {
	ProductID   string          `json:"productId"`
	Quantity    int             `json:"quantity"`
	PriceAtTime decimal.Decimal `json:"priceAtTime"`
}

// Routes is mounted under /api/v1/users/{userID}/carts/{storeID}.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.get)
	r.Delete("/", h.clear)
	r.Post("/items", h.add)
	return r
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.GetCartWithTotals(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "storeID"))
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if len(c.Items) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(c)
}

func (h *Handler) clear(w http.ResponseWriter, r *http.Request) {
	_ = h.carts.Clear(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "storeID"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) add(w http.ResponseWriter, r *http.Request) {
	var req addItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProductID == "" || req.Quantity <= 0 || req.PriceAtTime.IsNegative() {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	h.carts.Add(chi.URLParam(r, "userID"), chi.URLParam(r, "storeID"), req.ProductID, req.Quantity, req.PriceAtTime)
	w.WriteHeader(http.StatusNoContent)
}
