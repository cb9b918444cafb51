package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"ledger-sync/pkg/metrics"
	metricsmemory "ledger-sync/pkg/metrics/memory"
	"ledger-sync/pkg/remote"
)

func tripAfter(n uint32) ResilientConfig {
	config := DefaultResilientConfig()
	config.CircuitBreakerConfig.ReadyToTrip = func(c Counts) bool {
		return c.ConsecutiveFailures >= n
	}
	return config
}

func TestClient_PassesThrough(t *testing.T) {
	next := remote.DoerFunc(func(ctx context.Context, req remote.Request) (json.RawMessage, error) {
		return json.RawMessage(`{"ok":true}`), nil
	})
	client := NewClient("test", next, DefaultResilientConfig())

	body, err := client.Do(context.Background(), remote.Request{Method: "GET", Path: "loans"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("unexpected body %s", body)
	}
	if client.State() != metrics.CircuitClosed {
		t.Errorf("expected closed circuit, got %v", client.State())
	}
}

func TestClient_TransportFailuresTripBreaker(t *testing.T) {
	var calls int32
	next := remote.DoerFunc(func(ctx context.Context, req remote.Request) (json.RawMessage, error) {
		atomic.AddInt32(&calls, 1)
		return nil, &remote.TransportError{Method: req.Method, URL: "http://svc/loans", Err: errors.New("connection refused")}
	})
	collector := metricsmemory.NewMemoryCollector()
	client := NewClientWithMetrics("test", next, tripAfter(3), collector)

	for i := 0; i < 3; i++ {
		_, err := client.Do(context.Background(), remote.Request{Method: "GET", Path: "loans"})
		var te *remote.TransportError
		if !errors.As(err, &te) {
			t.Fatalf("call %d: expected transport error, got %v", i, err)
		}
	}

	_, err := client.Do(context.Background(), remote.Request{Method: "GET", Path: "loans"})
	if !errors.Is(err, remote.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("expected the open circuit to short-circuit, got %d calls", calls)
	}
	if client.State() != metrics.CircuitOpen {
		t.Errorf("expected open circuit, got %v", client.State())
	}
	if got := collector.Snapshot().Circuits["test"]; got != metrics.CircuitOpen.String() {
		t.Errorf("expected recorded circuit state open, got %q", got)
	}
}

func TestClient_ValidationErrorsDoNotTrip(t *testing.T) {
	next := remote.DoerFunc(func(ctx context.Context, req remote.Request) (json.RawMessage, error) {
		return nil, &remote.APIError{Status: 400, Message: "amount must be positive"}
	})
	client := NewClient("test", next, tripAfter(2))

	for i := 0; i < 5; i++ {
		_, err := client.Do(context.Background(), remote.Request{Method: "POST", Path: "loans"})
		var apiErr *remote.APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("call %d: expected API error, got %v", i, err)
		}
	}
	if client.State() != metrics.CircuitClosed {
		t.Errorf("validation errors must not open the circuit, got %v", client.State())
	}
}

func TestClient_ServerErrorsTrip(t *testing.T) {
	next := remote.DoerFunc(func(ctx context.Context, req remote.Request) (json.RawMessage, error) {
		return nil, &remote.APIError{Status: 503, Message: "unavailable"}
	})
	client := NewClient("test", next, tripAfter(2))

	client.Do(context.Background(), remote.Request{Method: "GET", Path: "loans"})
	client.Do(context.Background(), remote.Request{Method: "GET", Path: "loans"})

	if client.State() != metrics.CircuitOpen {
		t.Errorf("expected 5xx responses to open the circuit, got %v", client.State())
	}
}

func TestClient_Timeout(t *testing.T) {
	next := remote.DoerFunc(func(ctx context.Context, req remote.Request) (json.RawMessage, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return json.RawMessage(`[]`), nil
		}
	})
	client := NewClient("test", next, DefaultResilientConfig().WithTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := client.Do(context.Background(), remote.Request{Method: "GET", Path: "loans"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("timeout not applied")
	}
}
