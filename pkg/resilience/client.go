package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"ledger-sync/pkg/logging"
	"ledger-sync/pkg/metrics"
	"ledger-sync/pkg/remote"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Client wraps a remote.Doer with circuit breaker and timeout protection.
// It never retries: a failed call is reported once and left to the caller.
type Client struct {
	next    remote.Doer
	name    string
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	metrics metrics.MetricsCollector
	logger  *logging.Logger
}

// NewClient creates a resilient wrapper around next.
func NewClient(name string, next remote.Doer, config ResilientConfig) *Client {
	return NewClientWithMetrics(name, next, config, metrics.NoOpCollector{})
}

// NewClientWithMetrics creates a resilient wrapper with a custom metrics collector.
func NewClientWithMetrics(name string, next remote.Doer, config ResilientConfig, metricsCollector metrics.MetricsCollector) *Client {
	logger := logging.Global().Named("resilience").Named(name)

	rc := &Client{
		next:    next,
		name:    name,
		timeout: config.Timeout,
		metrics: metricsCollector,
		logger:  logger,
	}

	logger.Info("resilient client initialized",
		zap.String("name", name),
		zap.Duration("timeout", config.Timeout),
		zap.Uint32("max_requests", config.CircuitBreakerConfig.MaxRequests),
		zap.Duration("circuit_interval", config.CircuitBreakerConfig.Interval),
		zap.Duration("circuit_timeout", config.CircuitBreakerConfig.Timeout),
	)

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: config.CircuitBreakerConfig.MaxRequests,
		Interval:    config.CircuitBreakerConfig.Interval,
		Timeout:     config.CircuitBreakerConfig.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if config.CircuitBreakerConfig.ReadyToTrip != nil {
				return config.CircuitBreakerConfig.ReadyToTrip(Counts{
					Requests:             counts.Requests,
					TotalSuccesses:       counts.TotalSuccesses,
					TotalFailures:        counts.TotalFailures,
					ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
					ConsecutiveFailures:  counts.ConsecutiveFailures,
				})
			}
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)

			var state metrics.CircuitState
			switch to {
			case gobreaker.StateClosed:
				state = metrics.CircuitClosed
			case gobreaker.StateHalfOpen:
				state = metrics.CircuitHalfOpen
			case gobreaker.StateOpen:
				state = metrics.CircuitOpen
			}
			rc.metrics.RecordCircuitState(name, state)
		},
	}

	rc.cb = gobreaker.NewCircuitBreaker(settings)

	return rc
}

// countsAsSuccess keeps structured client errors (validation, not found) from
// tripping the breaker: the service answered, it just said no.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	var apiErr *remote.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status < 500
	}
	return false
}

// Do executes req through the circuit breaker with the configured timeout.
func (rc *Client) Do(ctx context.Context, req remote.Request) (json.RawMessage, error) {
	start := time.Now()

	if rc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rc.timeout)
		defer cancel()
	}

	result, err := rc.cb.Execute(func() (interface{}, error) {
		return rc.next.Do(ctx, req)
	})

	duration := time.Since(start)

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			rc.logger.Warn("circuit breaker open - request rejected",
				zap.String("method", req.Method),
				zap.String("route", req.Label()),
			)
			return nil, remote.ErrCircuitOpen
		}
		if ctx.Err() == context.DeadlineExceeded {
			rc.logger.Warn("request timeout",
				zap.String("method", req.Method),
				zap.String("route", req.Label()),
				zap.Duration("timeout", rc.timeout),
				zap.Duration("elapsed", duration),
			)
		}
		return nil, err
	}

	body, _ := result.(json.RawMessage)
	return body, nil
}

// State returns the current breaker state.
func (rc *Client) State() metrics.CircuitState {
	switch rc.cb.State() {
	case gobreaker.StateOpen:
		return metrics.CircuitOpen
	case gobreaker.StateHalfOpen:
		return metrics.CircuitHalfOpen
	default:
		return metrics.CircuitClosed
	}
}
