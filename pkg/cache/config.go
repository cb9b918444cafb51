package cache

import "time"

// DefaultDelimiter separates a tag from the rest of a derived key.
const DefaultDelimiter = "_"

// StoreConfig holds configuration shared by store implementations.
type StoreConfig struct {
	// Name is the identifier for this store (e.g., "memory", "redis")
	Name string

	// DefaultTTL is used when Set is called with a non-positive TTL
	DefaultTTL time.Duration

	// MaxTTL caps the TTL of any entry (0 = no cap)
	MaxTTL time.Duration

	// Delimiter separates tag and suffix in keys; Invalidate matches on it
	Delimiter string
}

// Validate checks if the configuration is valid.
// Returns an error if any required fields are missing or invalid.
func (c *StoreConfig) Validate() error {
	if c.Name == "" {
		return ErrInvalidValue
	}

	if c.DefaultTTL < 0 {
		return ErrInvalidValue
	}

	if c.MaxTTL < 0 {
		return ErrInvalidValue
	}

	if c.MaxTTL > 0 && c.DefaultTTL > c.MaxTTL {
		return ErrInvalidValue
	}

	return nil
}

// EffectiveTTL returns the TTL actually applied for a requested ttl.
// If ttl is not positive, returns DefaultTTL.
// If ttl exceeds MaxTTL, returns MaxTTL.
func (c *StoreConfig) EffectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = c.DefaultTTL
	}

	if c.MaxTTL > 0 && ttl > c.MaxTTL {
		return c.MaxTTL
	}

	return ttl
}

// EffectiveDelimiter returns Delimiter or DefaultDelimiter when unset.
func (c *StoreConfig) EffectiveDelimiter() string {
	if c.Delimiter == "" {
		return DefaultDelimiter
	}
	return c.Delimiter
}
