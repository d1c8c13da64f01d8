package cart

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/multistore-checkout/pkg/logging"
)

func TestMemory_Totals(t *testing.T) {
	m := NewMemory(decimal.RequireFromString("0.08"))
	m.DeliveryFee = decimal.RequireFromString("2.50")
	m.Add("u1", "s1", "p1", 2, decimal.RequireFromString("4.99"))
	m.Add("u1", "s1", "p2", 1, decimal.RequireFromString("3.00"))
	m.Add("u1", "s1", "p1", 1, decimal.RequireFromString("4.99"))

	c, err := m.GetCartWithTotals(context.Background(), "u1", "s1")
	require.NoError(t, err)
	require.Len(t, c.Items, 2)
	assert.Equal(t, 3, c.Items[0].Quantity)
	assert.Equal(t, "17.97", c.Subtotal.StringFixed(2))
	assert.Equal(t, "1.44", c.Tax.StringFixed(2))
	assert.Equal(t, "21.91", c.Total.StringFixed(2))

	require.NoError(t, m.Clear(context.Background(), "u1", "s1"))
	c, err = m.GetCartWithTotals(context.Background(), "u1", "s1")
	require.NoError(t, err)
	assert.Empty(t, c.Items)
	assert.True(t, c.Total.IsZero())
}

func TestHTTPClient(t *testing.T) {
	cleared := false
	r := chi.NewRouter()
	r.Get("/api/v1/users/{userID}/carts/{storeID}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "storeID") != "s1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Cart{
			UserID:  chi.URLParam(r, "userID"),
			StoreID: "s1",
			Items:   []Line{{ProductID: "p1", Quantity: 2, PriceAtTime: decimal.RequireFromString("1.25")}},
			Total:   decimal.RequireFromString("2.50"),
		})
	})
	r.Delete("/api/v1/users/{userID}/carts/{storeID}", func(w http.ResponseWriter, r *http.Request) {
		cleared = true
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	c := NewHTTPClient(logging.Discard(), srv.URL, time.Second)
	ctx := context.Background()

	got, err := c.GetCartWithTotals(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	require.Len(t, got.Items, 1)
	assert.True(t, got.Total.Equal(decimal.RequireFromString("2.5")))

	empty, err := c.GetCartWithTotals(ctx, "u1", "s2")
	require.NoError(t, err)
	assert.Empty(t, empty.Items)

	require.NoError(t, c.Clear(ctx, "u1", "s1"))
	assert.True(t, cleared)
}

func TestHandler_ServesMemoryCart(t *testing.T) {
	m := NewMemory(decimal.Zero)
	r := chi.NewRouter()
	r.Mount("/api/v1/users/{userID}/carts/{storeID}", NewHandler(m).Routes())
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/users/u1/carts/s1/items", "application/json",
		strings.NewReader(`{"productId":"p1","quantity":2,"priceAtTime":"3.00"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	c := NewHTTPClient(logging.Discard(), srv.URL, time.Second)
	got, err := c.GetCartWithTotals(context.Background(), "u1", "s1")
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "6.00", got.Total.StringFixed(2))

	require.NoError(t, c.Clear(context.Background(), "u1", "s1"))
	got, err = c.GetCartWithTotals(context.Background(), "u1", "s1")
	require.NoError(t, err)
	assert.Empty(t, got.Items)
}
