package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"ledger-sync/pkg/access"
	"ledger-sync/pkg/cache"
	"ledger-sync/pkg/cache/memory"
	"ledger-sync/pkg/cache/redis"
	"ledger-sync/pkg/chain"
	"ledger-sync/pkg/config"
	"ledger-sync/pkg/logging"
	"ledger-sync/pkg/metrics"
	metricsmem "ledger-sync/pkg/metrics/memory"
	promcollector "ledger-sync/pkg/metrics/prometheus"
	"ledger-sync/pkg/mutation"
	"ledger-sync/pkg/prefs"
	"ledger-sync/pkg/remote"
	"ledger-sync/pkg/resilience"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli"
	"go.uber.org/zap"
)

// env is everything a command needs, wired from the configuration.
type env struct {
	cfg      config.Config
	logger   *logging.Logger
	registry *prometheus.Registry
	memory   *metricsmem.MemoryCollector
	metrics  metrics.MetricsCollector
	store    cache.Store
	client   *access.Client
	orch     *mutation.Orchestrator
	prefs    *prefs.Store

	w io.Writer
	e io.Writer
}

func setup(c *cli.Context) (*env, error) {
	cfg, ok := c.App.Metadata["config"].(config.Config)
	if !ok {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return newEnv(cfg, c.App.Writer, c.App.ErrWriter)
}

func newEnv(cfg config.Config, w, e io.Writer) (*env, error) {
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	logging.SetGlobal(logger)

	mc := metricsmem.NewMemoryCollector()
	pc := promcollector.NewPrometheusCollector("ledger")
	registry := prometheus.NewRegistry()
	if err := pc.Register(registry); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	collector := metrics.Multi{mc, pc}

	store, err := newStore(cfg, collector, logger)
	if err != nil {
		return nil, err
	}

	httpClient, err := remote.NewHTTPClient(remote.HTTPConfig{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
		Token:   staticToken(cfg.API.Token),
		Metrics: collector,
		Logger:  logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	doer := resilience.NewClientWithMetrics("loan-service", httpClient, cfg.Resilience, collector)

	client := access.New(doer, store, access.Config{
		LoansTTL:   cfg.Cache.LoansTTL,
		MethodsTTL: cfg.Cache.MethodsTTL,
		Metrics:    collector,
		Logger:     logger,
	})

	if err := os.MkdirAll(filepath.Dir(cfg.PrefsPath), 0o755); err != nil {
		store.Close()
		return nil, fmt.Errorf("prefs: %w", err)
	}
	ps, err := prefs.Open(cfg.PrefsPath)
	if err != nil {
		store.Close()
		return nil, err
	}
	query, err := ps.Query()
	if err != nil {
		logger.Warn("ignoring unreadable preferences", zap.Error(err))
		query = access.ListQuery{}
	}

	orch := mutation.New(client, mutation.Config{
		Query:      query,
		BatchLimit: cfg.BatchLimit,
		Notifier:   consoleNotifier{w: w, e: e},
		Metrics:    collector,
		Logger:     logger,
	})

	return &env{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		memory:   mc,
		metrics:  collector,
		store:    store,
		client:   client,
		orch:     orch,
		prefs:    ps,
		w:        w,
		e:        e,
	}, nil
}

// newStore builds the local store, fronting Redis with it when an address
// is configured.
func newStore(cfg config.Config, collector metrics.MetricsCollector, logger *logging.Logger) (cache.Store, error) {
	local := memory.NewMemoryCache(memory.MemoryCacheConfig{
		Name:            "memory",
		MaxSize:         cfg.Cache.MaxSize,
		DefaultTTL:      cfg.Cache.LoansTTL,
		CleanupInterval: cfg.Cache.CleanupInterval,
		Metrics:         collector,
	})
	if cfg.Cache.RedisAddr == "" {
		return local, nil
	}

	rc := redis.DefaultRedisCacheConfig()
	rc.Addr = cfg.Cache.RedisAddr
	rc.Password = cfg.Cache.RedisPassword
	rc.DB = cfg.Cache.RedisDB
	rc.KeyPrefix = cfg.Cache.RedisKeyPrefix
	rc.DefaultTTL = cfg.Cache.LoansTTL
	rc.Metrics = collector
	shared, err := redis.NewRedisCache(rc)
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	layered, err := chain.New(chain.Config{
		TTL:         &chain.DecayingTTLStrategy{DecayFactor: 0.5},
		BackfillTTL: cfg.Cache.LoansTTL,
		Logger:      logger,
	}, local, shared)
	if err != nil {
		return nil, err
	}
	return layered, nil
}

func staticToken(token string) remote.TokenSource {
	if token == "" {
		return nil
	}
	return func(context.Context) (string, error) {
		return token, nil
	}
}

func (e *env) Close() {
	if err := e.prefs.Close(); err != nil {
		e.logger.Warn("closing preferences", zap.Error(err))
	}
	if err := e.store.Close(); err != nil {
		e.logger.Warn("closing cache store", zap.Error(err))
	}
	_ = e.logger.Sync()
}

// consoleNotifier prints mutation outcomes for the user.
type consoleNotifier struct {
	w io.Writer
	e io.Writer
}

func (n consoleNotifier) Notify(note mutation.Notification) {
	if note.Level == mutation.LevelError {
		fmt.Fprintf(n.e, "error: %s\n", note.Message)
		for field, msg := range note.Fields {
			fmt.Fprintf(n.e, "  %s: %s\n", field, msg)
		}
		return
	}
	fmt.Fprintln(n.w, note.Message)
}
