package resilience

import (
	"time"
)

// ResilientConfig configures the protection around the remote service.
type ResilientConfig struct {
	// Timeout bounds each remote call (0 = rely on the transport's own timeout)
	Timeout time.Duration `yaml:"timeout"`

	// CircuitBreakerConfig configures the circuit breaker behavior
	CircuitBreakerConfig CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// MaxRequests is the maximum number of requests allowed to pass through
	// when the CircuitBreaker is half-open. Default: 1
	MaxRequests uint32 `yaml:"max_requests"`

	// Interval is the cyclic period of the closed state for the CircuitBreaker
	// to clear the internal counts. If Interval is 0, it never clears.
	Interval time.Duration `yaml:"interval"`

	// Timeout is the period of the open state after which the state becomes half-open.
	Timeout time.Duration `yaml:"timeout"`

	// ReadyToTrip is called with a copy of Counts whenever a request fails.
	// If nil, the breaker trips after 5 consecutive failures.
	ReadyToTrip func(counts Counts) bool `yaml:"-"`
}

// Counts holds the numbers of requests and their successes/failures.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// DefaultResilientConfig returns defaults suited to an interactive client:
// a user action should fail fast once the service is clearly down.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		Timeout: 10 * time.Second,
		CircuitBreakerConfig: CircuitBreakerConfig{
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		},
	}
}

// WithTimeout returns a copy of the config with the specified timeout.
func (c ResilientConfig) WithTimeout(timeout time.Duration) ResilientConfig {
	c.Timeout = timeout
	return c
}

// WithCircuitBreakerTimeout returns a copy of the config with the specified circuit breaker timeout.
func (c ResilientConfig) WithCircuitBreakerTimeout(timeout time.Duration) ResilientConfig {
	c.CircuitBreakerConfig.Timeout = timeout
	return c
}
