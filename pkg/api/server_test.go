package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ledger-sync/pkg/cache/memory"
	"ledger-sync/pkg/chain"
	"ledger-sync/pkg/ledger"
	"ledger-sync/pkg/metrics"
	memorycollector "ledger-sync/pkg/metrics/memory"
	promcollector "ledger-sync/pkg/metrics/prometheus"
	"ledger-sync/pkg/mutation"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

type fakeLoans struct {
	snap       *mutation.Snapshot
	last       *mutation.Mutation
	refreshErr error
	refreshes  int
}

func (f *fakeLoans) Snapshot() *mutation.Snapshot { return f.snap }

func (f *fakeLoans) Last() (mutation.Mutation, bool) {
	if f.last == nil {
		return mutation.Mutation{}, false
	}
	return *f.last, true
}

func (f *fakeLoans) Refresh(ctx context.Context) error {
	f.refreshes++
	return f.refreshErr
}

type testEnv struct {
	server  *Server
	store   *memory.MemoryCache
	loans   *fakeLoans
	metrics *memorycollector.MemoryCollector
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()

	mc := memorycollector.NewMemoryCollector()
	pc := promcollector.NewPrometheusCollector("ledger")
	registry := prometheus.NewRegistry()
	if err := pc.Register(registry); err != nil {
		t.Fatalf("Failed to register collector: %v", err)
	}

	store := memory.NewMemoryCache(memory.MemoryCacheConfig{Name: "L1", MaxSize: 100, Metrics: mc})
	t.Cleanup(func() { store.Close() })

	loans := &fakeLoans{snap: &mutation.Snapshot{
		Version: 3,
		Loans: []ledger.Loan{
			{ID: "1", Type: ledger.Taken, Status: ledger.Active, RemainingAmount: decimal.NewFromInt(300)},
			{ID: "2", Type: ledger.Given, Status: ledger.Active, RemainingAmount: decimal.NewFromInt(50)},
			{ID: "3", Type: ledger.Given, Status: ledger.Closed, RemainingAmount: decimal.Zero},
		},
	}}

	config := DefaultServerConfig()
	config.Gatherer = registry
	server := NewServer(store, loans, metrics.Multi{mc, pc}, config)

	return &testEnv{server: server, store: store, loans: loans, metrics: mc}
}

func (e *testEnv) do(method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return response
}

func TestServer_Health(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(http.MethodGet, "/health")

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if response := decode(t, w); response["status"] != "healthy" {
		t.Errorf("Expected status healthy, got %v", response["status"])
	}
}

func TestServer_Status(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(http.MethodGet, "/status")

	response := decode(t, w)
	if response["status"] != "running" {
		t.Errorf("Expected status running, got %v", response["status"])
	}
	if response["store"] != "L1" {
		t.Errorf("Expected store L1, got %v", response["store"])
	}
	if response["snapshot_version"] != float64(3) {
		t.Errorf("Expected snapshot_version 3, got %v", response["snapshot_version"])
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(http.MethodPost, "/health")

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestServer_Metrics(t *testing.T) {
	env := setupTestServer(t)
	env.server.metrics.RecordMutation("close_loan", "committed")

	w := env.do(http.MethodGet, "/metrics")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "ledger_mutations_total") {
		t.Errorf("Expected ledger_mutations_total in output, got:\n%s", w.Body.String())
	}
}

func TestServer_MetricsJSON(t *testing.T) {
	env := setupTestServer(t)
	env.server.metrics.RecordMutation("close_loan", "committed")

	w := env.do(http.MethodGet, "/metrics/json")

	var snap memorycollector.Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if snap.Mutations["close_loan"]["committed"] != 1 {
		t.Errorf("Expected 1 committed close_loan, got %v", snap.Mutations)
	}
}

func TestServer_CacheStatsAndEntries(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()
	env.store.Set(ctx, `loans_all_[true,null,null,null]`, "x", time.Minute)
	env.store.Set(ctx, "payment_methods", "y", time.Minute)

	response := decode(t, env.do(http.MethodGet, "/cache/stats"))
	stats, ok := response["stats"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected stats object, got %v", response["stats"])
	}
	if stats["size"] != float64(2) {
		t.Errorf("Expected size 2, got %v", stats["size"])
	}

	response = decode(t, env.do(http.MethodGet, "/cache/entries"))
	entries, _ := response["entries"].([]interface{})
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	first := entries[0].(map[string]interface{})
	if first["key"] != `loans_all_[true,null,null,null]` {
		t.Errorf("Expected entries sorted by key, got %v", first["key"])
	}
}

func TestServer_CacheInvalidate(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()
	env.store.Set(ctx, `loans_all_[true,null,null,null]`, "x", time.Minute)
	env.store.Set(ctx, `loans_one_["42"]`, "x", time.Minute)
	env.store.Set(ctx, "payment_methods", "y", time.Minute)

	w := env.do(http.MethodPost, "/cache/invalidate")

	response := decode(t, w)
	if response["tag"] != "loans" {
		t.Errorf("Expected default tag loans, got %v", response["tag"])
	}
	if response["removed"] != float64(2) {
		t.Errorf("Expected 2 removed, got %v", response["removed"])
	}
	if _, err := env.store.Get(ctx, "payment_methods"); err != nil {
		t.Errorf("payment_methods should survive: %v", err)
	}

	response = decode(t, env.do(http.MethodPost, "/cache/invalidate?tag=payment_methods"))
	if response["removed"] != float64(1) {
		t.Errorf("Expected 1 removed, got %v", response["removed"])
	}
}

func TestServer_Loans(t *testing.T) {
	env := setupTestServer(t)

	response := decode(t, env.do(http.MethodGet, "/loans"))

	summary := response["summary"].(map[string]interface{})
	if summary["owedByMe"] != "300" {
		t.Errorf("Expected owedByMe 300, got %v", summary["owedByMe"])
	}
	if summary["owedToMe"] != "50" {
		t.Errorf("Expected owedToMe 50, got %v", summary["owedToMe"])
	}
	if summary["closedCount"] != float64(1) {
		t.Errorf("Expected closedCount 1, got %v", summary["closedCount"])
	}
	snap := response["snapshot"].(map[string]interface{})
	if loans := snap["loans"].([]interface{}); len(loans) != 3 {
		t.Errorf("Expected 3 loans, got %d", len(loans))
	}
}

func TestServer_LoansRefresh(t *testing.T) {
	env := setupTestServer(t)

	if w := env.do(http.MethodPost, "/loans/refresh"); w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	env.loans.refreshErr = errors.New("dial tcp 10.0.0.1:443: refused")
	w := env.do(http.MethodPost, "/loans/refresh")
	if w.Code != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d", w.Code)
	}
	if response := decode(t, w); response["error"] != mutation.GenericMessage {
		t.Errorf("Expected generic message, got %v", response["error"])
	}
	if env.loans.refreshes != 2 {
		t.Errorf("Expected 2 refreshes, got %d", env.loans.refreshes)
	}
}

func TestServer_LastMutation(t *testing.T) {
	env := setupTestServer(t)

	if w := env.do(http.MethodGet, "/mutations/last"); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}

	env.loans.last = &mutation.Mutation{ID: "m1", Kind: mutation.KindCloseLoan, StateName: "committed"}
	response := decode(t, env.do(http.MethodGet, "/mutations/last"))
	if response["kind"] != "close_loan" || response["state"] != "committed" {
		t.Errorf("Unexpected mutation: %v", response)
	}
}

func TestServer_NoLoanView(t *testing.T) {
	store := memory.NewMemoryCache(memory.MemoryCacheConfig{Name: "L1"})
	defer store.Close()
	server := NewServer(store, nil, nil, DefaultServerConfig())

	req := httptest.NewRequest(http.MethodGet, "/loans", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
}

func TestServer_ChainBackfillStats(t *testing.T) {
	l1 := memory.NewMemoryCache(memory.MemoryCacheConfig{Name: "L1"})
	l2 := memory.NewMemoryCache(memory.MemoryCacheConfig{Name: "L2"})
	layered, err := chain.New(chain.Config{}, l1, l2)
	if err != nil {
		t.Fatalf("Failed to create chain: %v", err)
	}
	defer layered.Close()

	ctx := context.Background()
	l2.Set(ctx, "payment_methods", "y", time.Minute)
	layered.Get(ctx, "payment_methods")
	layered.Flush(time.Second)

	server := NewServer(layered, nil, nil, DefaultServerConfig())
	req := httptest.NewRequest(http.MethodGet, "/cache/stats", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	response := decode(t, w)
	backfill, ok := response["backfill"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected backfill object, got %v", response["backfill"])
	}
	l1Stats, ok := backfill["L1"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected stats for L1, got %v", backfill)
	}
	if l1Stats["total_writes"] != float64(1) {
		t.Errorf("Expected 1 backfill write, got %v", l1Stats["total_writes"])
	}
}
