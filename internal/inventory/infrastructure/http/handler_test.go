package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/multistore-checkout/internal/inventory/application"
	"github.com/dmehra2102/multistore-checkout/internal/inventory/domain"
	"github.com/dmehra2102/multistore-checkout/internal/inventory/infrastructure/memory"
	"github.com/dmehra2102/multistore-checkout/pkg/logging"
)

func newRouter(seed ...domain.Record) http.Handler {
	ledger := application.NewLedger(logging.Discard(), memory.NewRepository(seed...), nil)
	r := chi.NewRouter()
	r.Mount("/api/v1/stores/{storeID}/inventory", NewHandler(logging.Discard(), ledger).Routes())
	return r
}

func TestHandler_GetAndSet(t *testing.T) {
	router := newRouter(domain.Record{StoreID: "s1", ProductID: "p1", QuantityAvailable: 4, IsAvailable: true})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stores/s1/inventory/p1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got recordView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 4, got.AvailableToSell)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/stores/s1/inventory/p2",
		strings.NewReader(`{"quantityAvailable": 9, "reorderLevel": 2}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "p2", got.ProductID)
	assert.True(t, got.IsAvailable)
	assert.Equal(t, 9, got.AvailableToSell)
}

func TestHandler_NotFoundAndInvalid(t *testing.T) {
	router := newRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stores/s1/inventory/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/stores/s1/inventory/p1",
		strings.NewReader(`{"quantityAvailable": -1}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
