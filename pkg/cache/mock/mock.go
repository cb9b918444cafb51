// Package mock provides a cache.Store with injectable behavior for tests.
package mock

import (
	"context"
	"sync/atomic"
	"time"

	"ledger-sync/pkg/cache"
)

// MockStore is a cache.Store whose methods can be overridden per test.
// Unset hooks behave like an empty store.
type MockStore struct {
	GetFunc        func(ctx context.Context, key string) (interface{}, error)
	SetFunc        func(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteFunc     func(ctx context.Context, key string) error
	InvalidateFunc func(ctx context.Context, tagOrKey string) (int, error)
	NameFunc       func() string
	CloseFunc      func() error

	// Call tracking (must use atomic operations for race-free access)
	getCalls        int64
	setCalls        int64
	deleteCalls     int64
	invalidateCalls int64
	closeCalls      int64
	epoch           uint64
}

var _ cache.Store = (*MockStore)(nil)

func (m *MockStore) Get(ctx context.Context, key string) (interface{}, error) {
	atomic.AddInt64(&m.getCalls, 1)
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	return nil, cache.ErrKeyNotFound
}

func (m *MockStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	atomic.AddInt64(&m.setCalls, 1)
	if m.SetFunc != nil {
		return m.SetFunc(ctx, key, value, ttl)
	}
	return nil
}

func (m *MockStore) Delete(ctx context.Context, key string) error {
	atomic.AddInt64(&m.deleteCalls, 1)
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, key)
	}
	return nil
}

// Invalidate advances the epoch before delegating to InvalidateFunc.
func (m *MockStore) Invalidate(ctx context.Context, tagOrKey string) (int, error) {
	atomic.AddInt64(&m.invalidateCalls, 1)
	atomic.AddUint64(&m.epoch, 1)
	if m.InvalidateFunc != nil {
		return m.InvalidateFunc(ctx, tagOrKey)
	}
	return 0, nil
}

// Epoch counts Invalidate calls.
func (m *MockStore) Epoch() uint64 {
	return atomic.LoadUint64(&m.epoch)
}

func (m *MockStore) Name() string {
	if m.NameFunc != nil {
		return m.NameFunc()
	}
	return "mock"
}

func (m *MockStore) Close() error {
	atomic.AddInt64(&m.closeCalls, 1)
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// GetCalls returns the number of Get calls (thread-safe).
func (m *MockStore) GetCalls() int {
	return int(atomic.LoadInt64(&m.getCalls))
}

// SetCalls returns the number of Set calls (thread-safe).
func (m *MockStore) SetCalls() int {
	return int(atomic.LoadInt64(&m.setCalls))
}

// DeleteCalls returns the number of Delete calls (thread-safe).
func (m *MockStore) DeleteCalls() int {
	return int(atomic.LoadInt64(&m.deleteCalls))
}

// InvalidateCalls returns the number of Invalidate calls (thread-safe).
func (m *MockStore) InvalidateCalls() int {
	return int(atomic.LoadInt64(&m.invalidateCalls))
}

// CloseCalls returns the number of Close calls (thread-safe).
func (m *MockStore) CloseCalls() int {
	return int(atomic.LoadInt64(&m.closeCalls))
}
