// Package api serves a small HTTP inspection surface over a running sync
// layer: health, metrics, cache contents and the current loan snapshot.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ledger-sync/pkg/access"
	"ledger-sync/pkg/cache"
	"ledger-sync/pkg/cache/memory"
	"ledger-sync/pkg/ledger"
	"ledger-sync/pkg/logging"
	"ledger-sync/pkg/metrics"
	memorycollector "ledger-sync/pkg/metrics/memory"
	"ledger-sync/pkg/mutation"
	"ledger-sync/pkg/writer"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// LoanView is the read side of the mutation orchestrator.
type LoanView interface {
	Snapshot() *mutation.Snapshot
	Last() (mutation.Mutation, bool)
	Refresh(ctx context.Context) error
}

// Server provides HTTP endpoints for cache inspection and monitoring.
type Server struct {
	store   cache.Store
	loans   LoanView
	metrics metrics.MetricsCollector
	server  *http.Server
	router  *mux.Router
	config  ServerConfig
	logger  *logging.Logger
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	// Address to listen on (e.g., ":9090")
	Address string

	// ReadTimeout for HTTP requests
	ReadTimeout time.Duration

	// WriteTimeout for HTTP responses
	WriteTimeout time.Duration

	// Gatherer backs /metrics (default prometheus.DefaultGatherer)
	Gatherer prometheus.Gatherer

	Logger *logging.Logger
}

// DefaultServerConfig returns a default configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      ":9090",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// NewServer creates a new inspection server. loans may be nil when no
// orchestrator is running.
func NewServer(store cache.Store, loans LoanView, collector metrics.MetricsCollector, config ServerConfig) *Server {
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}

	s := &Server{
		store:   store,
		loans:   loans,
		metrics: collector,
		config:  config,
		logger:  config.Logger.Or().Named("api"),
	}

	r := mux.NewRouter()

	// Health and status endpoints
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	// Metrics endpoints
	r.Handle("/metrics", promhttp.HandlerFor(config.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/metrics/json", s.handleMetricsJSON).Methods(http.MethodGet)

	// Cache inspection endpoints
	r.HandleFunc("/cache/stats", s.handleCacheStats).Methods(http.MethodGet)
	r.HandleFunc("/cache/entries", s.handleCacheEntries).Methods(http.MethodGet)
	r.HandleFunc("/cache/invalidate", s.handleCacheInvalidate).Methods(http.MethodPost)

	// Loan snapshot endpoints
	r.HandleFunc("/loans", s.handleLoans).Methods(http.MethodGet)
	r.HandleFunc("/loans/refresh", s.handleLoansRefresh).Methods(http.MethodPost)
	r.HandleFunc("/mutations/last", s.handleLastMutation).Methods(http.MethodGet)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	s.router = r
	s.server = &http.Server{
		Addr:         config.Address,
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return s
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", zap.Error(err))
		}
	}()
	s.logger.Info("API server listening", zap.String("addr", s.config.Address))
	return nil
}

// ListenAndServe runs the server until it is shut down.
func (s *Server) ListenAndServe() error {
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleHealth returns a simple health check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	}

	writeJSON(w, http.StatusOK, response)
}

// handleStatus returns detailed status information.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "running",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(startTime).String(),
		"store":     s.store.Name(),
	}
	if s.loans != nil {
		snap := s.loans.Snapshot()
		response["snapshot_version"] = snap.Version
		response["snapshot_fetched_at"] = snap.FetchedAt
	}

	writeJSON(w, http.StatusOK, response)
}

// handleMetricsJSON returns the in-memory metrics snapshot, if one is being
// collected.
func (s *Server) handleMetricsJSON(w http.ResponseWriter, r *http.Request) {
	if mc := findMemoryCollector(s.metrics); mc != nil {
		writeJSON(w, http.StatusOK, mc.Snapshot())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"error": "Metrics collector does not support JSON snapshot",
	})
}

func findMemoryCollector(c metrics.MetricsCollector) *memorycollector.MemoryCollector {
	switch mc := c.(type) {
	case *memorycollector.MemoryCollector:
		return mc
	case metrics.Multi:
		for _, inner := range mc {
			if found := findMemoryCollector(inner); found != nil {
				return found
			}
		}
	}
	return nil
}

// handleCacheStats returns store statistics.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"store":     s.store.Name(),
		"timestamp": time.Now().Unix(),
	}
	if e, ok := s.store.(cache.Epocher); ok {
		response["epoch"] = e.Epoch()
	}
	if st, ok := s.store.(interface{ Stats() memory.MemoryCacheStats }); ok {
		response["stats"] = st.Stats()
	}
	if ws, ok := s.store.(interface {
		WriterStats() map[string]writer.AsyncWriterStats
	}); ok {
		response["backfill"] = ws.WriterStats()
	}

	writeJSON(w, http.StatusOK, response)
}

type entryView struct {
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	TTL       string    `json:"ttl"`
}

// handleCacheEntries lists live entries of stores that can enumerate them.
func (s *Server) handleCacheEntries(w http.ResponseWriter, r *http.Request) {
	lister, ok := s.store.(interface{ Entries() []cache.CacheEntry })
	if !ok {
		writeJSON(w, http.StatusNotImplemented, map[string]interface{}{
			"error": "store does not support listing entries",
			"store": s.store.Name(),
		})
		return
	}

	now := time.Now()
	entries := lister.Entries()
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryView{
			Key:       e.Key,
			CreatedAt: e.CreatedAt,
			ExpiresAt: e.ExpiresAt,
			TTL:       e.TimeToLive(now).Round(time.Second).String(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"store":   s.store.Name(),
		"entries": out,
	})
}

// handleCacheInvalidate drops a tag (default: the loans family).
func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	if tag == "" {
		tag = access.LoansTag
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	removed, err := s.store.Invalidate(ctx, tag)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": err.Error(),
			"tag":   tag,
		})
		return
	}

	s.logger.Info("cache invalidated", zap.String("tag", tag), zap.Int("removed", removed))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tag":     tag,
		"removed": removed,
	})
}

// handleLoans returns the current snapshot and its outstanding totals.
func (s *Server) handleLoans(w http.ResponseWriter, r *http.Request) {
	if !s.requireLoans(w) {
		return
	}

	snap := s.loans.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"snapshot": snap,
		"summary":  ledger.Summarize(snap.Loans),
	})
}

// handleLoansRefresh refetches the snapshot.
func (s *Server) handleLoansRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.requireLoans(w) {
		return
	}

	if err := s.loans.Refresh(r.Context()); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error": mutation.Message(err),
		})
		return
	}

	snap := s.loans.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version": snap.Version,
		"loans":   len(snap.Loans),
	})
}

// handleLastMutation returns the most recent mutation outcome.
func (s *Server) handleLastMutation(w http.ResponseWriter, r *http.Request) {
	if !s.requireLoans(w) {
		return
	}

	m, ok := s.loans.Last()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error": "no mutation yet",
		})
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) requireLoans(w http.ResponseWriter) bool {
	if s.loans == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error": "no loan snapshot is being maintained",
		})
		return false
	}
	return true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

var startTime = time.Now()
