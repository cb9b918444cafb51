// Package config loads ledgerctl settings from a YAML file, a .env file and
// the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"ledger-sync/pkg/logging"
	"ledger-sync/pkg/resilience"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LEDGER_"

// APIConfig points at the remote resource service.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	// Token is sent as a bearer token when set
	Token string `yaml:"token"`
}

// CacheConfig sets the TTLs and the shared store.
type CacheConfig struct {
	LoansTTL        time.Duration `yaml:"loans_ttl"`
	MethodsTTL      time.Duration `yaml:"payment_methods_ttl"`
	MaxSize         int           `yaml:"max_size"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// RedisAddr switches the cache to a shared Redis store when set
	RedisAddr      string `yaml:"redis_addr"`
	RedisPassword  string `yaml:"redis_password"`
	RedisDB        int    `yaml:"redis_db"`
	RedisKeyPrefix string `yaml:"redis_key_prefix"`
}

// ServerConfig configures the inspection API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the full ledgerctl configuration.
type Config struct {
	API        APIConfig                  `yaml:"api"`
	Cache      CacheConfig                `yaml:"cache"`
	Resilience resilience.ResilientConfig `yaml:"resilience"`
	PrefsPath  string                     `yaml:"prefs_path"`
	// BatchLimit caps concurrent installment calls in a save
	BatchLimit int            `yaml:"batch_limit"`
	Logging    logging.Config `yaml:"logging"`
	Server     ServerConfig   `yaml:"server"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL: "http://localhost:8080/api/",
			Timeout: 15 * time.Second,
		},
		Cache: CacheConfig{
			LoansTTL:        5 * time.Minute,
			MethodsTTL:      30 * time.Minute,
			CleanupInterval: time.Minute,
			RedisKeyPrefix:  "ledger:",
		},
		Resilience: resilience.DefaultResilientConfig(),
		PrefsPath:  defaultPrefsPath(),
		BatchLimit: 4,
		Logging:    logging.DefaultConfig(),
		Server:     ServerConfig{Addr: ":9090"},
	}
}

func defaultPrefsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".ledgerctl/prefs"
	}
	return dir + "/ledgerctl/prefs"
}

// Load reads the YAML file at path over Default, then applies the .env file
// (if present) and LEDGER_* environment overrides. An empty path skips the
// file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to unmarshal config %s: %w", path, err)
		}
	}

	if err := LoadDotEnv(); err != nil {
		return Config{}, err
	}
	ApplyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads .env from the working directory, or the file named by
// LEDGER_ENV_FILE. A missing default file is not an error. Variables already
// set in the environment win.
func LoadDotEnv() error {
	file, explicit := os.LookupEnv(EnvPrefix + "ENV_FILE")
	if !explicit {
		file = ".env"
	}
	if err := godotenv.Load(file); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", file, err)
	}
	return nil
}

// ApplyEnv overrides cfg from LEDGER_* environment variables. Unparseable
// values are ignored.
func ApplyEnv(cfg *Config) {
	cfg.API.BaseURL = envString("API_BASE_URL", cfg.API.BaseURL)
	cfg.API.Timeout = envDuration("API_TIMEOUT", cfg.API.Timeout)
	cfg.API.Token = envString("API_TOKEN", cfg.API.Token)

	cfg.Cache.LoansTTL = envDuration("CACHE_LOANS_TTL", cfg.Cache.LoansTTL)
	cfg.Cache.MethodsTTL = envDuration("CACHE_METHODS_TTL", cfg.Cache.MethodsTTL)
	cfg.Cache.MaxSize = envInt("CACHE_MAX_SIZE", cfg.Cache.MaxSize)
	cfg.Cache.CleanupInterval = envDuration("CACHE_CLEANUP_INTERVAL", cfg.Cache.CleanupInterval)
	cfg.Cache.RedisAddr = envString("REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = envString("REDIS_PASSWORD", cfg.Cache.RedisPassword)
	cfg.Cache.RedisDB = envInt("REDIS_DB", cfg.Cache.RedisDB)
	cfg.Cache.RedisKeyPrefix = envString("REDIS_KEY_PREFIX", cfg.Cache.RedisKeyPrefix)

	cb := &cfg.Resilience.CircuitBreakerConfig
	cfg.Resilience.Timeout = envDuration("REQUEST_TIMEOUT", cfg.Resilience.Timeout)
	cb.Timeout = envDuration("BREAKER_TIMEOUT", cb.Timeout)
	cb.Interval = envDuration("BREAKER_INTERVAL", cb.Interval)
	if n := envInt("BREAKER_MAX_REQUESTS", int(cb.MaxRequests)); n > 0 {
		cb.MaxRequests = uint32(n)
	}
	if n := envInt("BREAKER_FAILURES", 0); n > 0 {
		threshold := uint32(n)
		cb.ReadyToTrip = func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		}
	}

	cfg.PrefsPath = envString("PREFS_PATH", cfg.PrefsPath)
	cfg.BatchLimit = envInt("BATCH_LIMIT", cfg.BatchLimit)
	cfg.Server.Addr = envString("SERVER_ADDR", cfg.Server.Addr)
	cfg.Logging = logging.ApplyEnv(cfg.Logging)
}

// Validate reports settings that cannot work.
func (c Config) Validate() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return errors.New("config: api.base_url is required")
	}
	if c.Cache.LoansTTL <= 0 || c.Cache.MethodsTTL <= 0 {
		return errors.New("config: cache TTLs must be positive")
	}
	if c.BatchLimit < 0 {
		return errors.New("config: batch_limit cannot be negative")
	}
	return nil
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(EnvPrefix + key); ok {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return d
}
