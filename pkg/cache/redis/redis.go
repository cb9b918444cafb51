// Package redis is a shared cache.Store backed by Redis, for running several
// ledger clients against one response cache.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"ledger-sync/pkg/cache"
	"ledger-sync/pkg/metrics"

	"github.com/redis/rueidis"
)

// RedisCache stores raw JSON values under a key prefix.
type RedisCache struct {
	client  rueidis.Client
	name    string
	config  RedisCacheConfig
	epoch   atomic.Uint64
	metrics metrics.MetricsCollector
}

type RedisCacheConfig struct {
	Name string `yaml:"name"`
	// Addr is the Redis server address for single node/sentinel mode.
	// Examples: "localhost:6379", "redis.example.com:6379"
	Addr string `yaml:"addr"`
	// ClusterAddrs enables cluster mode when set.
	ClusterAddrs []string `yaml:"cluster_addrs"`
	Username     string   `yaml:"username"`
	Password     string   `yaml:"password"`
	// DB is the Redis database number (0-15). Cluster mode only supports 0.
	DB           int           `yaml:"db"`
	KeyPrefix    string        `yaml:"key_prefix"`
	DefaultTTL   time.Duration `yaml:"default_ttl"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// ScanCount is the COUNT hint used while scanning for tagged keys.
	ScanCount int64 `yaml:"scan_count"`
	// SentinelAddrs enables sentinel mode when set.
	SentinelAddrs     []string `yaml:"sentinel_addrs"`
	SentinelMasterSet string   `yaml:"sentinel_master_set"`

	Metrics metrics.MetricsCollector `yaml:"-"`
}

func DefaultRedisCacheConfig() RedisCacheConfig {
	return RedisCacheConfig{
		Name:         "redis",
		Addr:         "localhost:6379",
		KeyPrefix:    "ledger:",
		DefaultTTL:   5 * time.Minute,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
		ScanCount:    100,
	}
}

func NewRedisCache(config RedisCacheConfig) (*RedisCache, error) {
	if config.Name == "" {
		config.Name = "redis"
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 5 * time.Minute
	}
	if config.ScanCount <= 0 {
		config.ScanCount = 100
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NoOpCollector{}
	}

	var initAddress []string
	switch {
	case len(config.ClusterAddrs) > 0:
		initAddress = config.ClusterAddrs
	case len(config.SentinelAddrs) > 0:
		initAddress = config.SentinelAddrs
	case config.Addr != "":
		initAddress = []string{config.Addr}
	default:
		return nil, fmt.Errorf("redis: no addresses configured (set Addr, ClusterAddrs, or SentinelAddrs)")
	}

	clientOpts := rueidis.ClientOption{
		InitAddress:      initAddress,
		Username:         config.Username,
		Password:         config.Password,
		SelectDB:         config.DB,
		ConnWriteTimeout: config.WriteTimeout,
		MaxFlushDelay:    100 * time.Microsecond,
	}
	if len(config.SentinelAddrs) > 0 {
		clientOpts.Sentinel = rueidis.SentinelOption{MasterSet: config.SentinelMasterSet}
	}

	client, err := rueidis.NewClient(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("redis: failed to create client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: failed to ping server: %w", err)
	}

	return &RedisCache{
		client:  client,
		name:    config.Name,
		config:  config,
		metrics: config.Metrics,
	}, nil
}

// Get returns the stored bytes as json.RawMessage. Callers that cached a
// typed value must decode it themselves.
func (r *RedisCache) Get(ctx context.Context, key string) (interface{}, error) {
	start := time.Now()
	resp := r.client.Do(ctx, r.client.B().Get().Key(r.config.KeyPrefix+key).Build())

	if err := resp.Error(); err != nil {
		r.metrics.RecordGet(r.name, false, time.Since(start))
		if rueidis.IsRedisNil(err) {
			return nil, cache.ErrKeyNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	data, err := resp.AsBytes()
	if err != nil {
		r.metrics.RecordGet(r.name, false, time.Since(start))
		return nil, fmt.Errorf("redis get: failed to read response: %w", err)
	}
	r.metrics.RecordGet(r.name, true, time.Since(start))
	return json.RawMessage(data), nil
}

// Set stores value as JSON. json.RawMessage and []byte are stored verbatim.
// Redis expiry has second granularity, so ttl is rounded up to one second.
func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	start := time.Now()

	var data []byte
	switch v := value.(type) {
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		var err error
		if data, err = json.Marshal(value); err != nil {
			return fmt.Errorf("redis set: failed to marshal: %w", err)
		}
	}

	if ttl <= 0 {
		ttl = r.config.DefaultTTL
	}
	if ttl < time.Second {
		ttl = time.Second
	}

	cmd := r.client.B().Set().Key(r.config.KeyPrefix + key).Value(string(data)).Ex(ttl).Build()
	err := r.client.Do(ctx, cmd).Error()
	r.metrics.RecordSet(r.name, err == nil, time.Since(start))
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	cmd := r.client.B().Del().Key(r.config.KeyPrefix + key).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Invalidate deletes tagOrKey itself and every key starting with
// tagOrKey + "_", scanning with SCAN so the server is never blocked.
func (r *RedisCache) Invalidate(ctx context.Context, tagOrKey string) (int, error) {
	defer r.epoch.Add(1)

	keys := []string{r.config.KeyPrefix + tagOrKey}
	pattern := r.config.KeyPrefix + escapeGlob(tagOrKey+cache.DefaultDelimiter) + "*"

	var cursor uint64
	for {
		cmd := r.client.B().Scan().Cursor(cursor).Match(pattern).Count(r.config.ScanCount).Build()
		entry, err := r.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return 0, fmt.Errorf("redis invalidate %q: %w", tagOrKey, err)
		}
		keys = append(keys, entry.Elements...)
		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}

	removed, err := r.client.Do(ctx, r.client.B().Del().Key(keys...).Build()).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("redis invalidate %q: %w", tagOrKey, err)
	}
	r.metrics.RecordInvalidate(r.name, tagOrKey, int(removed))
	return int(removed), nil
}

// Epoch counts invalidations issued through this client.
func (r *RedisCache) Epoch() uint64 {
	return r.epoch.Load()
}

func (r *RedisCache) Name() string {
	return r.name
}

func (r *RedisCache) Close() error {
	r.client.Close()
	return nil
}

func (r *RedisCache) Ping(ctx context.Context) error {
	if err := r.client.Do(ctx, r.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// escapeGlob quotes the characters MATCH treats as wildcards.
func escapeGlob(s string) string {
	return globReplacer.Replace(s)
}
