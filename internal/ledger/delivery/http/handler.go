package http

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tair/stock-ledger/internal/ledger/domain"
	"github.com/tair/stock-ledger/internal/ledger/usecase/command"
	"github.com/tair/stock-ledger/internal/ledger/usecase/query"
	"github.com/tair/stock-ledger/pkg/logger"
)

// LedgerHandler handles HTTP requests for the stock ledger
type LedgerHandler struct {
	// Command handlers
	adjustHandler      *command.AdjustQuantityHandler
	setHandler         *command.SetQuantityHandler
	setLocationHandler *command.SetLocationHandler
	removeHandler      *command.RemoveProductHandler

	// Query handlers
	quantityHandler  *query.GetQuantityHandler
	policyHandler    *query.EffectivePolicyHandler
	locationHandler  *query.GetLocationHandler
	movementsHandler *query.ListMovementsHandler

	requestCounter *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
}

// Handlers bundles the use case handlers the HTTP layer exposes.
type Handlers struct {
	AdjustQuantity  *command.AdjustQuantityHandler
	SetQuantity     *command.SetQuantityHandler
	SetLocation     *command.SetLocationHandler
	RemoveProduct   *command.RemoveProductHandler
	GetQuantity     *query.GetQuantityHandler
	EffectivePolicy *query.EffectivePolicyHandler
	GetLocation     *query.GetLocationHandler
	ListMovements   *query.ListMovementsHandler
}

// NewLedgerHandler creates a new ledger handler
func NewLedgerHandler(handlers Handlers) *LedgerHandler {
	requestCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stock_ledger_requests_total",
			Help: "Total number of requests to the stock ledger service",
		},
		[]string{"method", "endpoint", "status"},
	)

	requestLatency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stock_ledger_request_duration_seconds",
			Help:    "Duration of stock ledger requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	prometheus.MustRegister(requestCounter)
	prometheus.MustRegister(requestLatency)

	return &LedgerHandler{
		adjustHandler:      handlers.AdjustQuantity,
		setHandler:         handlers.SetQuantity,
		setLocationHandler: handlers.SetLocation,
		removeHandler:      handlers.RemoveProduct,
		quantityHandler:    handlers.GetQuantity,
		policyHandler:      handlers.EffectivePolicy,
		locationHandler:    handlers.GetLocation,
		movementsHandler:   handlers.ListMovements,
		requestCounter:     requestCounter,
		requestLatency:     requestLatency,
	}
}

type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// metricsResponseWriter wraps http.ResponseWriter to capture status code
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// metricsMiddleware wraps handlers with Prometheus metrics
func (h *LedgerHandler) metricsMiddleware(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		h.requestLatency.WithLabelValues(r.Method, endpoint).Observe(duration)
		h.requestCounter.WithLabelValues(r.Method, endpoint, strconv.Itoa(rw.statusCode)).Inc()
	}
}

// GetQuantity handles GET /api/stock/{product_id}/quantity
func (h *LedgerHandler) GetQuantity(w http.ResponseWriter, r *http.Request) {
	key, ok := h.parseStockKey(w, r)
	if !ok {
		return
	}

	quantity, err := h.quantityHandler.Handle(r.Context(), query.GetQuantityQuery{
		ProductID: key.productID,
		VariantID: key.variantID,
		ShopID:    key.shopID,
	})
	if err != nil {
		h.respondDomainError(w, r, err, "Failed to read quantity")
		return
	}

	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"product_id": key.productID,
			"variant_id": key.variantID,
			"quantity":   quantity,
		},
	})
}

// AdjustQuantity handles PATCH /api/stock/{product_id}/quantity/adjust
func (h *LedgerHandler) AdjustQuantity(w http.ResponseWriter, r *http.Request) {
	key, ok := h.parseStockKey(w, r)
	if !ok {
		return
	}

	var req struct {
		Delta          int32  `json:"delta"`
		RecordMovement bool   `json:"record_movement"`
		OrderRef       string `json:"order_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, Response{
			Success: false,
			Error:   "Invalid request body",
		})
		return
	}

	err := h.adjustHandler.Handle(r.Context(), command.AdjustQuantityCommand{
		ProductID:      key.productID,
		VariantID:      key.variantID,
		Delta:          req.Delta,
		ShopID:         key.shopID,
		RecordMovement: req.RecordMovement,
		OrderRef:       req.OrderRef,
	})
	if err != nil {
		h.respondDomainError(w, r, err, "Failed to adjust quantity")
		return
	}

	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "Quantity adjusted successfully",
	})
}

// SetQuantity handles PUT /api/stock/{product_id}/quantity
func (h *LedgerHandler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	key, ok := h.parseStockKey(w, r)
	if !ok {
		return
	}

	var req struct {
		Quantity       int32   `json:"quantity"`
		RecordMovement bool    `json:"record_movement"`
		OrderRef       string  `json:"order_ref"`
		Location       *string `json:"location"`
		OutOfStock     *int    `json:"out_of_stock"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, Response{
			Success: false,
			Error:   "Invalid request body",
		})
		return
	}

	cmd := command.SetQuantityCommand{
		ProductID:      key.productID,
		VariantID:      key.variantID,
		Quantity:       req.Quantity,
		ShopID:         key.shopID,
		RecordMovement: req.RecordMovement,
		OrderRef:       req.OrderRef,
		Location:       req.Location,
	}
	if req.OutOfStock != nil {
		policy := domain.OutOfStockPolicy(*req.OutOfStock)
		cmd.Policy = &policy
	}

	if err := h.setHandler.Handle(r.Context(), cmd); err != nil {
		h.respondDomainError(w, r, err, "Failed to set quantity")
		return
	}

	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "Quantity set successfully",
	})
}

// GetLocation handles GET /api/stock/{product_id}/location
func (h *LedgerHandler) GetLocation(w http.ResponseWriter, r *http.Request) {
	key, ok := h.parseStockKey(w, r)
	if !ok {
		return
	}

	location, found, err := h.locationHandler.Handle(r.Context(), query.GetLocationQuery{
		ProductID: key.productID,
		VariantID: key.variantID,
		ShopID:    key.shopID,
	})
	if err != nil {
		h.respondDomainError(w, r, err, "Failed to read location")
		return
	}
	if !found {
		respondJSON(w, http.StatusNotFound, Response{
			Success: false,
			Error:   "Location not found",
		})
		return
	}

	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"product_id": key.productID,
			"variant_id": key.variantID,
			"location":   location,
		},
	})
}

// SetLocation handles PUT /api/stock/{product_id}/location
func (h *LedgerHandler) SetLocation(w http.ResponseWriter, r *http.Request) {
	key, ok := h.parseStockKey(w, r)
	if !ok {
		return
	}

	var req struct {
		Location string `json:"location"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, Response{
			Success: false,
			Error:   "Invalid request body",
		})
		return
	}

	err := h.setLocationHandler.Handle(r.Context(), command.SetLocationCommand{
		ProductID: key.productID,
		VariantID: key.variantID,
		ShopID:    key.shopID,
		Location:  req.Location,
	})
	if err != nil {
		h.respondDomainError(w, r, err, "Failed to set location")
		return
	}

	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "Location set successfully",
	})
}

// GetPolicy handles GET /api/stock/{product_id}/policy
func (h *LedgerHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	key, ok := h.parseStockKey(w, r)
	if !ok {
		return
	}

	policy, err := h.policyHandler.Handle(r.Context(), query.EffectivePolicyQuery{
		ProductID: key.productID,
		VariantID: key.variantID,
		ShopID:    key.shopID,
	})
	if err != nil {
		h.respondDomainError(w, r, err, "Failed to resolve policy")
		return
	}

	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"product_id":   key.productID,
			"variant_id":   key.variantID,
			"out_of_stock": policy.String(),
		},
	})
}

// ListMovements handles GET /api/stock/{product_id}/movements
func (h *LedgerHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	key, ok := h.parseStockKey(w, r)
	if !ok {
		return
	}

	q := query.ListMovementsQuery{
		ProductID: key.productID,
		VariantID: key.variantID,
		ShopID:    key.shopID,
	}
	q.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	q.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, Response{
				Success: false,
				Error:   "Invalid from timestamp",
			})
			return
		}
		q.From = t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, Response{
				Success: false,
				Error:   "Invalid to timestamp",
			})
			return
		}
		q.To = t
	}

	movements, err := h.movementsHandler.Handle(r.Context(), q)
	if err != nil {
		h.respondDomainError(w, r, err, "Failed to list movements")
		return
	}

	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    movements,
	})
}

// RemoveProduct handles DELETE /api/stock/{product_id}
func (h *LedgerHandler) RemoveProduct(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	productID, err := strconv.ParseUint(vars["product_id"], 10, 32)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, Response{
			Success: false,
			Error:   "Invalid product ID",
		})
		return
	}

	keepShared := r.URL.Query().Get("keep_shared") == "true"

	err = h.removeHandler.Handle(r.Context(), command.RemoveProductCommand{
		ProductID:  uint32(productID),
		KeepShared: keepShared,
	})
	if err != nil {
		h.respondDomainError(w, r, err, "Failed to remove product stock")
		return
	}

	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "Product stock removed successfully",
	})
}

type stockKey struct {
	productID uint32
	variantID uint32
	shopID    uint32
}

// parseStockKey reads product_id from the path and variant_id/shop_id from
// the query string. Both default to 0: the parent row and the ambient shop.
func (h *LedgerHandler) parseStockKey(w http.ResponseWriter, r *http.Request) (stockKey, bool) {
	vars := mux.Vars(r)
	productID, err := strconv.ParseUint(vars["product_id"], 10, 32)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, Response{
			Success: false,
			Error:   "Invalid product ID",
		})
		return stockKey{}, false
	}

	key := stockKey{productID: uint32(productID)}
	if v := r.URL.Query().Get("variant_id"); v != "" {
		variantID, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, Response{
				Success: false,
				Error:   "Invalid variant ID",
			})
			return stockKey{}, false
		}
		key.variantID = uint32(variantID)
	}
	if v := r.URL.Query().Get("shop_id"); v != "" {
		shopID, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, Response{
				Success: false,
				Error:   "Invalid shop ID",
			})
			return stockKey{}, false
		}
		key.shopID = uint32(shopID)
	}
	return key, true
}

// respondDomainError maps domain errors to HTTP status codes
func (h *LedgerHandler) respondDomainError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidIdentifier),
		errors.Is(err, domain.ErrRangeViolation),
		errors.Is(err, domain.ErrScopeResolution),
		errors.Is(err, domain.ErrAggregateRowWrite):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrConcurrentConflict):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		logger.WithContext(r.Context()).Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg(fallback)
		respondJSON(w, status, Response{
			Success: false,
			Error:   fallback,
		})
		return
	}

	respondJSON(w, status, Response{
		Success: false,
		Error:   err.Error(),
	})
}

// RegisterRoutes registers all stock ledger routes. Mutating routes go
// through the supplied auth middleware; reads are open.
func (h *LedgerHandler) RegisterRoutes(router *mux.Router, auth func(http.HandlerFunc) http.HandlerFunc) {
	router.HandleFunc("/api/stock/{product_id}/quantity", h.metricsMiddleware("/api/stock/{product_id}/quantity", h.GetQuantity)).Methods("GET")
	router.HandleFunc("/api/stock/{product_id}/quantity", h.metricsMiddleware("/api/stock/{product_id}/quantity", auth(h.SetQuantity))).Methods("PUT")
	router.HandleFunc("/api/stock/{product_id}/quantity/adjust", h.metricsMiddleware("/api/stock/{product_id}/quantity/adjust", auth(h.AdjustQuantity))).Methods("PATCH")
	router.HandleFunc("/api/stock/{product_id}/location", h.metricsMiddleware("/api/stock/{product_id}/location", h.GetLocation)).Methods("GET")
	router.HandleFunc("/api/stock/{product_id}/location", h.metricsMiddleware("/api/stock/{product_id}/location", auth(h.SetLocation))).Methods("PUT")
	router.HandleFunc("/api/stock/{product_id}/policy", h.metricsMiddleware("/api/stock/{product_id}/policy", h.GetPolicy)).Methods("GET")
	router.HandleFunc("/api/stock/{product_id}/movements", h.metricsMiddleware("/api/stock/{product_id}/movements", h.ListMovements)).Methods("GET")
	router.HandleFunc("/api/stock/{product_id}", h.metricsMiddleware("/api/stock/{product_id}", auth(h.RemoveProduct))).Methods("DELETE")
}

// RegisterHealthCheck registers health check endpoint
func (h *LedgerHandler) RegisterHealthCheck(router *mux.Router, db *sql.DB) {
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, Response{
				Success: false,
				Error:   "Database unavailable",
			})
			return
		}

		respondJSON(w, http.StatusOK, Response{
			Success: true,
			Message: "Stock ledger service is healthy",
		})
	}).Methods("GET")
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
