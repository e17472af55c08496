package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tair/stock-ledger/internal/ledger/cache"
	"github.com/tair/stock-ledger/internal/ledger/domain"
	"github.com/tair/stock-ledger/internal/ledger/repository"
	"github.com/tair/stock-ledger/internal/ledger/usecase/command"
	"github.com/tair/stock-ledger/internal/ledger/usecase/query"
	"github.com/tair/stock-ledger/pkg/auth"
)

const testSecret = "test-secret"

type staticConfig struct {
	policy domain.OutOfStockPolicy
}

func (c staticConfig) GlobalOutOfStockPolicy(context.Context) domain.OutOfStockPolicy {
	return c.policy
}

func buildRouter(t *testing.T) *mux.Router {
	t.Helper()

	stock := repository.NewMemoryStockRepository()
	movements := repository.NewMemoryMovementRepository()
	quantityCache := cache.NewMemoryQuantityCache()
	invalidator := cache.NewInvalidator(quantityCache)
	topology := repository.NewMemoryTopologyProvider()
	topology.AddShop(1, 10)
	topology.AddShop(2, 10)
	topology.AddShop(3, 20)
	topology.SetShared(10, true)
	resolver := domain.NewScopeResolver(topology, 0)
	recompute := command.NewRecomputeAggregateHandler(stock, invalidator)
	notifier := domain.NopNotifier{}
	bounds := domain.DefaultBounds

	handler := NewLedgerHandler(Handlers{
		AdjustQuantity:  command.NewAdjustQuantityHandler(stock, movements, resolver, invalidator, recompute, notifier, bounds),
		SetQuantity:     command.NewSetQuantityHandler(stock, movements, resolver, invalidator, recompute, notifier, bounds),
		SetLocation:     command.NewSetLocationHandler(stock, resolver),
		RemoveProduct:   command.NewRemoveProductHandler(stock, invalidator),
		GetQuantity:     query.NewGetQuantityHandler(stock, resolver, quantityCache),
		EffectivePolicy: query.NewEffectivePolicyHandler(stock, resolver, staticConfig{policy: domain.PolicyDeny}),
		GetLocation:     query.NewGetLocationHandler(stock, resolver),
		ListMovements:   query.NewListMovementsHandler(movements, resolver),
	})

	router := mux.NewRouter()
	handler.RegisterRoutes(router, AuthMiddleware(testSecret))
	return router
}

func bearerToken(t *testing.T) string {
	t.Helper()
	token, err := auth.GenerateToken(1, "tester", "admin", testSecret, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func doJSON(t *testing.T, router *mux.Router, method, target, token string, body interface{}) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return rec, resp
}

func TestLedgerHandlerEndpoints(t *testing.T) {
	// One router per test run: the handler registers Prometheus collectors,
	// which must only happen once per process.
	router := buildRouter(t)
	token := bearerToken(t)

	quantityOf := func(t *testing.T, target string) float64 {
		t.Helper()
		rec, resp := doJSON(t, router, http.MethodGet, target, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		data, ok := resp.Data.(map[string]interface{})
		require.True(t, ok)
		return data["quantity"].(float64)
	}

	t.Run("mutations require a token", func(t *testing.T) {
		rec, resp := doJSON(t, router, http.MethodPut, "/api/stock/1/quantity?shop_id=3", "", map[string]interface{}{"quantity": 50})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.False(t, resp.Success)

		rec, _ = doJSON(t, router, http.MethodPut, "/api/stock/1/quantity?shop_id=3", "Bearer garbage", map[string]interface{}{"quantity": 50})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("set then read quantity", func(t *testing.T) {
		rec, resp := doJSON(t, router, http.MethodPut, "/api/stock/1/quantity?shop_id=3", token, map[string]interface{}{"quantity": 50})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, resp.Success)

		assert.Equal(t, float64(50), quantityOf(t, "/api/stock/1/quantity?shop_id=3"))
	})

	t.Run("adjust quantity", func(t *testing.T) {
		rec, _ := doJSON(t, router, http.MethodPatch, "/api/stock/1/quantity/adjust?shop_id=3", token, map[string]interface{}{
			"delta":           -12,
			"record_movement": true,
			"order_ref":       "ord-1",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		assert.Equal(t, float64(38), quantityOf(t, "/api/stock/1/quantity?shop_id=3"))
	})

	t.Run("movements reflect the adjustment", func(t *testing.T) {
		rec, resp := doJSON(t, router, http.MethodGet, "/api/stock/1/movements?shop_id=3", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		entries, ok := resp.Data.([]interface{})
		require.True(t, ok)
		require.Len(t, entries, 1)
		entry := entries[0].(map[string]interface{})
		assert.Equal(t, float64(-12), entry["delta"])
		assert.Equal(t, "ord-1", entry["order_ref"])
	})

	t.Run("nonexistent key reads as zero", func(t *testing.T) {
		assert.Equal(t, float64(0), quantityOf(t, "/api/stock/404/quantity?shop_id=3"))
	})

	t.Run("shared shops read the same pool", func(t *testing.T) {
		rec, _ := doJSON(t, router, http.MethodPut, "/api/stock/2/quantity?shop_id=1", token, map[string]interface{}{"quantity": 9})
		require.Equal(t, http.StatusOK, rec.Code)

		assert.Equal(t, float64(9), quantityOf(t, "/api/stock/2/quantity?shop_id=2"))
	})

	t.Run("range violation maps to 400", func(t *testing.T) {
		rec, resp := doJSON(t, router, http.MethodPatch, "/api/stock/1/quantity/adjust?shop_id=3", token, map[string]interface{}{
			"delta": domain.DefaultBounds.Max,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, resp.Error, "outside")
	})

	t.Run("unknown shop maps to 400", func(t *testing.T) {
		rec, _ := doJSON(t, router, http.MethodGet, "/api/stock/1/quantity?shop_id=99", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid product id maps to 400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/stock/abc/quantity", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("location lifecycle", func(t *testing.T) {
		rec, _ := doJSON(t, router, http.MethodGet, "/api/stock/3/location?shop_id=3", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec, _ = doJSON(t, router, http.MethodPut, "/api/stock/3/location?shop_id=3", token, map[string]interface{}{"location": "dock 2"})
		require.Equal(t, http.StatusOK, rec.Code)

		rec, resp := doJSON(t, router, http.MethodGet, "/api/stock/3/location?shop_id=3", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		data := resp.Data.(map[string]interface{})
		assert.Equal(t, "dock 2", data["location"])
	})

	t.Run("effective policy", func(t *testing.T) {
		rec, resp := doJSON(t, router, http.MethodGet, "/api/stock/1/policy?shop_id=3", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		data := resp.Data.(map[string]interface{})
		assert.Equal(t, "deny", data["out_of_stock"])

		rec, _ = doJSON(t, router, http.MethodPut, fmt.Sprintf("/api/stock/%d/quantity?shop_id=3", 1), token, map[string]interface{}{
			"quantity":     38,
			"out_of_stock": int(domain.PolicyAllow),
		})
		require.Equal(t, http.StatusOK, rec.Code)

		_, resp = doJSON(t, router, http.MethodGet, "/api/stock/1/policy?shop_id=3", "", nil)
		data = resp.Data.(map[string]interface{})
		assert.Equal(t, "allow", data["out_of_stock"])
	})

	t.Run("variant writes keep the parent in sync", func(t *testing.T) {
		for variant, q := range map[int]int{1: 5, 2: 7} {
			rec, _ := doJSON(t, router, http.MethodPut, fmt.Sprintf("/api/stock/5/quantity?shop_id=3&variant_id=%d", variant), token, map[string]interface{}{"quantity": q})
			require.Equal(t, http.StatusOK, rec.Code)
		}
		assert.Equal(t, float64(12), quantityOf(t, "/api/stock/5/quantity?shop_id=3"))

		// Direct writes to the parent row of a variant product are rejected.
		rec, _ := doJSON(t, router, http.MethodPut, "/api/stock/5/quantity?shop_id=3", token, map[string]interface{}{"quantity": 1})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("remove product", func(t *testing.T) {
		rec, _ := doJSON(t, router, http.MethodDelete, "/api/stock/1", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		assert.Equal(t, float64(0), quantityOf(t, "/api/stock/1/quantity?shop_id=3"))
	})
}
