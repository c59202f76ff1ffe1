package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/andresuchdata/fulfillops/backend-go/internal/config"
	"github.com/andresuchdata/fulfillops/backend-go/internal/domain"
	"github.com/andresuchdata/fulfillops/backend-go/internal/events"
	"github.com/andresuchdata/fulfillops/backend-go/internal/metrics"
	"github.com/andresuchdata/fulfillops/backend-go/internal/repository/memory"
	"github.com/andresuchdata/fulfillops/backend-go/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router *gin.Engine
	store  *memory.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.NewStore()
	cfg := &config.Config{
		Engine: config.EngineConfig{
			SelectionCeiling:  5000,
			SelectionPageSize: 100,
			DefaultChunkSize:  2,
			PreviewTopN:       3,
			BulkWorkers:       2,
			DefaultWarehouse:  "MAIN",
		},
		Storage: config.StorageConfig{Prefix: "batches/"},
	}
	m := metrics.New()
	engine := service.NewEngine(service.Dependencies{
		Store:     store,
		Publisher: &events.Recorder{},
		Metrics:   m,
	}, cfg)
	return &testServer{
		router: NewRouter(&Services{Engine: engine, Metrics: m}, []string{"*"}),
		store:  store,
	}
}

func (s *testServer) seed(t *testing.T, id string, status domain.Status, items ...domain.LineItem) {
	t.Helper()
	if len(items) == 0 {
		items = []domain.LineItem{{SKU: "SKU-A", Quantity: 2, UnitPrice: 5, LineTotal: 10}}
	}
	require.NoError(t, s.store.CreateOrder(context.Background(), &domain.Order{
		ID:                  id,
		Channel:             domain.ChannelShopee,
		Status:              status,
		Items:               items,
		FulfillmentLocation: "WH-1",
		OrderedAt:           time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
	}))
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type errorEnvelope struct {
	Error struct {
		Kind    string `json:"kind"`
		Reason  string `json:"reason"`
		Message string `json:"message"`
		OrderID string `json:"order_id"`
	} `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fulfillops_http_request_duration_seconds")
}

func TestValidateTransitionEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/transitions/validate", gin.H{"current": "paid", "target": "packing"})
	require.Equal(t, http.StatusOK, w.Code)
	var ok service.TransitionVerdict
	decode(t, w, &ok)
	assert.True(t, ok.Allowed)

	w = s.do(t, http.MethodPost, "/api/v1/transitions/validate", gin.H{"current": "RETURNED", "target": "SHIPPED"})
	require.Equal(t, http.StatusOK, w.Code)
	var rejected service.TransitionVerdict
	decode(t, w, &rejected)
	assert.False(t, rejected.Allowed)
	assert.Equal(t, domain.ReasonTerminalState, rejected.Reason)

	w = s.do(t, http.MethodPost, "/api/v1/transitions/validate", gin.H{"current": "PAID"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSingleTransitionErrors(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "ord-1", domain.StatusCancelled)

	w := s.do(t, http.MethodPost, "/api/v1/orders/ord-1/status", gin.H{"target_status": "paid"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var env errorEnvelope
	decode(t, w, &env)
	assert.Equal(t, "VALIDATION", env.Error.Kind)
	assert.Equal(t, "TERMINAL_STATE", env.Error.Reason)

	w = s.do(t, http.MethodPost, "/api/v1/orders/nope/status", gin.H{"target_status": "PAID"})
	require.Equal(t, http.StatusNotFound, w.Code)
	decode(t, w, &env)
	assert.Equal(t, "ORDER_NOT_FOUND", env.Error.Reason)
	assert.Equal(t, "nope", env.Error.OrderID)
}

func TestBulkStatusEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "ord-1", domain.StatusPaid)
	s.seed(t, "ord-2", domain.StatusCancelled)

	w := s.do(t, http.MethodPost, "/api/v1/orders/bulk/status", gin.H{
		"selection":     gin.H{"order_ids": []string{"ord-1", "ord-2", "ord-3"}},
		"target_status": "PACKING",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var result domain.BulkResult
	decode(t, w, &result)
	assert.Equal(t, []string{"ord-1"}, result.Succeeded)
	require.Len(t, result.Failed, 2)

	reasons := map[string]domain.Reason{}
	for _, f := range result.Failed {
		reasons[f.OrderID] = f.Reason
	}
	assert.Equal(t, domain.ReasonTerminalState, reasons["ord-2"])
	assert.Equal(t, domain.ReasonOrderNotFound, reasons["ord-3"])
}

func TestResolveSelectionEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "ord-1", domain.StatusPacking)
	s.seed(t, "ord-2", domain.StatusPaid)

	w := s.do(t, http.MethodPost, "/api/v1/selections/resolve", gin.H{
		"selection": gin.H{"filter": gin.H{"status_group": "to_pack"}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var resolved domain.ResolvedSelection
	decode(t, w, &resolved)
	assert.Equal(t, []string{"ord-1"}, resolved.OrderIDs)
	assert.False(t, resolved.Truncated)

	w = s.do(t, http.MethodPost, "/api/v1/selections/resolve", gin.H{"selection": gin.H{}})
	require.Equal(t, http.StatusBadRequest, w.Code)
	var env errorEnvelope
	decode(t, w, &env)
	assert.Equal(t, "EMPTY_SELECTION", env.Error.Reason)
}

func TestReturnFlowEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "ord-1", domain.StatusDelivered,
		domain.LineItem{SKU: "SKU-A", Quantity: 2, UnitPrice: 5, LineTotal: 10},
		domain.LineItem{SKU: "SKU-B", Quantity: 1, UnitPrice: 8, LineTotal: 8},
	)

	w := s.do(t, http.MethodPost, "/api/v1/orders/ord-1/returns", gin.H{
		"items": []gin.H{
			{"sku": "SKU-A", "return_quantity": 5, "condition": "GOOD"},
		},
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/orders/ord-1/returns", gin.H{
		"items": []gin.H{
			{"sku": "SKU-A", "return_quantity": 2, "condition": "GOOD", "reason": "wrong size"},
			{"sku": "SKU-B", "return_quantity": 1, "condition": "DAMAGED", "reason": "cracked"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result domain.ReturnResult
	decode(t, w, &result)
	assert.Equal(t, domain.StatusReturned, result.Status)
	assert.Len(t, result.LedgerEntries, 2)

	w = s.do(t, http.MethodGet, "/api/v1/stock/SKU-A?warehouse=WH-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var balance domain.StockBalance
	decode(t, w, &balance)
	assert.Equal(t, 2, balance.OnHand)

	w = s.do(t, http.MethodGet, "/api/v1/orders/ord-1/ledger", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ledger struct {
		Entries []domain.StockLedgerEntry `json:"entries"`
	}
	decode(t, w, &ledger)
	assert.Len(t, ledger.Entries, 2)

	w = s.do(t, http.MethodPost, "/api/v1/orders/ord-1/returns/verify", gin.H{"verified": true, "notes": "checked"})
	require.Equal(t, http.StatusOK, w.Code)
	var first domain.VerifyResult
	decode(t, w, &first)
	assert.True(t, first.Changed)

	w = s.do(t, http.MethodPost, "/api/v1/orders/ord-1/returns/verify", gin.H{"verified": true, "notes": "again"})
	require.Equal(t, http.StatusOK, w.Code)
	var second domain.VerifyResult
	decode(t, w, &second)
	assert.False(t, second.Changed)

	w = s.do(t, http.MethodPost, "/api/v1/orders/ord-1/returns/verify", gin.H{"notes": "missing verdict"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAllowedTransitionsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "ord-1", domain.StatusShipped)

	w := s.do(t, http.MethodGet, "/api/v1/orders/ord-1/transitions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var allowed service.AllowedTransitions
	decode(t, w, &allowed)
	assert.ElementsMatch(t, []domain.Status{domain.StatusDelivered, domain.StatusDeliveryFailed, domain.StatusToReturn}, allowed.Targets)
	assert.True(t, allowed.Return)
}

func TestBatchEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "ord-1", domain.StatusPacking)
	s.seed(t, "ord-2", domain.StatusPacking)
	s.seed(t, "ord-3", domain.StatusPacking)

	w := s.do(t, http.MethodPost, "/api/v1/batches", gin.H{
		"selection": gin.H{"order_ids": []string{"ord-1", "ord-2", "ord-3"}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var plan domain.BatchPlan
	decode(t, w, &plan)
	require.Len(t, plan.Chunks, 2)
	assert.NotEmpty(t, plan.Handle)

	w = s.do(t, http.MethodGet, "/api/v1/batches/"+plan.Handle+"/chunks/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var chunk domain.Chunk
	decode(t, w, &chunk)
	assert.Equal(t, []string{"ord-3"}, chunk.OrderIDs)

	w = s.do(t, http.MethodGet, "/api/v1/batches/"+plan.Handle+"/chunks/7", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/batches/"+plan.Handle+"/chunks/x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/batches/"+plan.Handle+"/chunks/0/export", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var export service.ExportResult
	decode(t, w, &export)
	assert.Equal(t, service.ManifestKey("batches/", plan.Handle, 0), export.Key)

	w = s.do(t, http.MethodGet, "/api/v1/batches/unknown", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodDelete, "/api/v1/batches/"+plan.Handle, nil)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	w = s.do(t, http.MethodGet, "/api/v1/batches/"+plan.Handle, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.do(t, http.MethodDelete, "/api/v1/batches/"+plan.Handle, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/batches", gin.H{
		"selection":     gin.H{"order_ids": []string{"ord-1"}},
		"max_per_chunk": -1,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNormalizeAllowedOrigins(t *testing.T) {
	origins, all := normalizeAllowedOrigins([]string{"http://a.test, http://b.test", " "})
	assert.False(t, all)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, origins)

	_, all = normalizeAllowedOrigins([]string{"*"})
	assert.True(t, all)
}
