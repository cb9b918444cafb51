package chain

import (
	"math"
	"time"
)

// TTLStrategy determines TTL for each store in the chain.
type TTLStrategy interface {
	// GetTTL returns the TTL for the store at index out of count stores
	GetTTL(index, count int, baseTTL time.Duration) time.Duration
}

// UniformTTLStrategy uses the same TTL for all stores.
type UniformTTLStrategy struct{}

// GetTTL returns the base TTL for all stores.
func (s *UniformTTLStrategy) GetTTL(index, count int, baseTTL time.Duration) time.Duration {
	return baseTTL
}

// DecayingTTLStrategy reduces TTL for upper (faster) stores, so that a local
// copy goes stale sooner than the shared one it was filled from.
type DecayingTTLStrategy struct {
	DecayFactor float64 // e.g., 0.5 means each store has half the TTL of the next
}

// GetTTL returns decaying TTL based on store index.
// The last store gets the full baseTTL; with three stores and a factor of
// 0.5 the TTLs are base*0.25, base*0.5 and base.
func (s *DecayingTTLStrategy) GetTTL(index, count int, baseTTL time.Duration) time.Duration {
	if s.DecayFactor <= 0 || s.DecayFactor >= 1 || index >= count-1 {
		return baseTTL
	}

	exponent := float64(count - index - 1)
	ttl := time.Duration(float64(baseTTL) * math.Pow(s.DecayFactor, exponent))
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}

// CustomTTLStrategy uses explicit TTL values for each store.
type CustomTTLStrategy struct {
	TTLs []time.Duration
}

// GetTTL returns the custom TTL for a store, or baseTTL if not specified.
func (s *CustomTTLStrategy) GetTTL(index, count int, baseTTL time.Duration) time.Duration {
	if index < len(s.TTLs) && s.TTLs[index] > 0 {
		return s.TTLs[index]
	}
	return baseTTL
}
