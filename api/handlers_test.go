package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-aggregator/cache"
	"price-aggregator/models"
	"price-aggregator/scraper/static"
	"price-aggregator/services"
	"price-aggregator/utils"
)

type fakeStore struct {
	mu      sync.Mutex
	saved   map[string]models.Marketplace
	failing bool
}

func (f *fakeStore) Save(_ context.Context, def models.Marketplace) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("store down")
	}
	f.saved[def.Name] = def
	return nil
}

func (f *fakeStore) Delete(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.saved[name]
	delete(f.saved, name)
	return ok, nil
}

func (f *fakeStore) LoadAll(context.Context) ([]models.Marketplace, error) { return nil, nil }
func (f *fakeStore) Close() error                                          { return nil }

type testEnv struct {
	server   *Server
	registry *services.Registry
	store    *fakeStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := services.NewRegistry()
	require.NoError(t, reg.Register(static.New("steam", decimal.RequireFromString("100"), "USD", "https://steam.example"), 0))
	require.NoError(t, reg.Register(static.New("skinport", decimal.RequireFromString("90"), "EUR", "https://skinport.example"), 0))
	require.NoError(t, reg.Register(static.New("bitskins", decimal.RequireFromString("80"), "GBP", "http://bitskins.example"), 0))

	logger := utils.NewNopLogger()
	agg := services.NewAggregator(services.NewScorer(services.WithReputations(reg)), time.Second, logger)
	c := cache.New(cache.DefaultConfig())
	prices := services.NewPriceService(agg, c, reg, services.WithBatchLimits(3, 2))
	store := &fakeStore{saved: map[string]models.Marketplace{}}

	srv := NewServer(":0", Deps{
		Prices:   prices,
		Registry: reg,
		Store:    store,
		Factory: func(def models.Marketplace) (services.Connector, error) {
			if def.Name == "explode" {
				panic("factory exploded")
			}
			return static.New(def.Name, def.Price, def.Currency, def.Endpoint), nil
		},
		Logger: logger,
	})
	return &testEnv{server: srv, registry: reg, store: store}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestGetPrices(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/prices?item=AK-47", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["cached"])
	assert.Equal(t, "AK-47", body["query"])
	assert.Len(t, body["listings"], 3)

	cheapest := body["cheapest"].(map[string]any)
	assert.Equal(t, "skinport", cheapest["marketplace"])
	assert.Equal(t, "96.3", cheapest["normalized_price"])

	rec = env.do(t, http.MethodGet, "/api/prices?item=AK-47", nil)
	assert.Equal(t, true, decodeBody(t, rec)["cached"])
}

func TestGetPricesSortAndFilter(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/prices?item=AK-47&sort=price_desc&min_price=97", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listings := decodeBody(t, rec)["listings"].([]any)
	require.Len(t, listings, 2)
	assert.Equal(t, "bitskins", listings[0].(map[string]any)["marketplace"])
	assert.Equal(t, "steam", listings[1].(map[string]any)["marketplace"])

	// The cached report keeps every listing in connector order.
	rec = env.do(t, http.MethodGet, "/api/prices?item=AK-47", nil)
	listings = decodeBody(t, rec)["listings"].([]any)
	require.Len(t, listings, 3)
	assert.Equal(t, "steam", listings[0].(map[string]any)["marketplace"])
}

func TestGetPricesBadRequests(t *testing.T) {
	env := newTestEnv(t)
	for _, target := range []string{
		"/api/prices",
		"/api/prices?item=%20%20",
		"/api/prices?item=x&sort=cheapest",
		"/api/prices?item=x&min_price=abc",
		"/api/prices?item=x&max_price=-1",
		"/api/prices?item=x&min_price=10&max_price=5",
	} {
		rec := env.do(t, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Contains(t, decodeBody(t, rec), "error")
	}
}

func TestExportPrices(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/prices/export?item=AWP%20%7C%20Asiimov", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="AWP___Asiimov.csv"`)

	rows, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "query", rows[0][0])

	rec = env.do(t, http.MethodGet, "/api/prices/export", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchPrices(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/prices/batch", map[string]any{"items": []string{"a", "b", " "}})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 3, body["count"])
	results := body["results"].([]any)
	assert.Equal(t, "a", results[0].(map[string]any)["item"])
	assert.Equal(t, services.ErrEmptyQuery.Error(), results[2].(map[string]any)["error"])

	for _, payload := range []any{
		map[string]any{"items": []string{}},
		map[string]any{"items": []string{"a", "b", "c", "d"}},
		"{not json",
	} {
		rec := env.do(t, http.MethodPost, "/api/prices/batch", payload)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
}

func TestCacheEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/api/prices?item=a", nil)
	env.do(t, http.MethodGet, "/api/prices?item=b", nil)
	env.do(t, http.MethodGet, "/api/prices?item=a", nil)

	stats := decodeBody(t, env.do(t, http.MethodGet, "/api/cache/stats", nil))
	assert.EqualValues(t, 2, stats["size"])
	assert.EqualValues(t, 1, stats["hits"])
	assert.EqualValues(t, 2, stats["misses"])

	keys := decodeBody(t, env.do(t, http.MethodGet, "/api/cache/keys", nil))
	assert.Equal(t, []any{"a", "b"}, keys["keys"])

	del := decodeBody(t, env.do(t, http.MethodDelete, "/api/cache/a", nil))
	assert.Equal(t, true, del["deleted"])
	del = decodeBody(t, env.do(t, http.MethodDelete, "/api/cache/a", nil))
	assert.Equal(t, false, del["deleted"])

	reset := env.do(t, http.MethodPost, "/api/cache/stats/reset", nil)
	require.Equal(t, http.StatusOK, reset.Code)
	stats = decodeBody(t, env.do(t, http.MethodGet, "/api/cache/stats", nil))
	assert.EqualValues(t, 0, stats["hits"])

	cleared := decodeBody(t, env.do(t, http.MethodDelete, "/api/cache", nil))
	assert.EqualValues(t, 1, cleared["cleared"])
}

func TestMarketplaceRegistration(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/marketplaces", map[string]any{
		"name": "Buff", "kind": "static", "price": "12.5", "currency": "cny", "reputation": 0.8,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "buff", decodeBody(t, rec)["name"])
	assert.Contains(t, env.store.saved, "buff")
	assert.Equal(t, []string{"steam", "skinport", "bitskins", "buff"}, env.registry.Names())

	rec = env.do(t, http.MethodPost, "/api/marketplaces", map[string]any{"name": "buff", "kind": "static", "price": "1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/marketplaces", map[string]any{"name": "nope", "kind": "httpjson"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	list := decodeBody(t, env.do(t, http.MethodGet, "/api/marketplaces", nil))
	assert.EqualValues(t, 4, list["count"])

	rec = env.do(t, http.MethodDelete, "/api/marketplaces/BUFF", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, env.store.saved, "buff")

	rec = env.do(t, http.MethodDelete, "/api/marketplaces/buff", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMarketplaceRegistrationRollsBackOnStoreFailure(t *testing.T) {
	env := newTestEnv(t)
	env.store.failing = true

	rec := env.do(t, http.MethodPost, "/api/marketplaces", map[string]any{"name": "buff", "kind": "static", "price": "2"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, env.registry.Names(), "buff")
}

func TestRecoveryAndRequestID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/marketplaces", map[string]any{"name": "explode", "kind": "static", "price": "2"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	out := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(out, req)
	assert.Equal(t, "abc-123", out.Header().Get("X-Request-ID"))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, []any{"steam", "skinport", "bitskins"}, body["marketplaces"])

	cacheStats := body["cache"].(map[string]any)
	for _, field := range []string{"size", "hits", "misses", "hit_rate", "memory_bytes", "evictions"} {
		assert.Contains(t, cacheStats, field)
	}
}

func TestHealthReportsCacheActivity(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/api/prices?item=a", nil)
	env.do(t, http.MethodGet, "/api/prices?item=a", nil)

	cacheStats := decodeBody(t, env.do(t, http.MethodGet, "/health", nil))["cache"].(map[string]any)
	assert.EqualValues(t, 1, cacheStats["size"])
	assert.EqualValues(t, 1, cacheStats["hits"])
	assert.EqualValues(t, 1, cacheStats["misses"])
	assert.Greater(t, cacheStats["memory_bytes"].(float64), 0.0)
}

func TestCacheEntryNamedStatsCanBeDeleted(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/api/prices?item=stats", nil)
	require.Equal(t, []string{"stats"}, env.server.deps.Prices.Cache().Keys())

	del := decodeBody(t, env.do(t, http.MethodDelete, "/api/cache/stats", nil))
	assert.Equal(t, "stats", del["item"])
	assert.Equal(t, true, del["deleted"])
	assert.Empty(t, env.server.deps.Prices.Cache().Keys())
}

func TestRunShutsDownOnCancel(t *testing.T) {
	env := newTestEnv(t)
	env.server.addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
