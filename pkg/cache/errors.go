package cache

import (
	"errors"
	"fmt"
	"strings"
)

// Common cache operation errors.
var (
	// ErrKeyNotFound is returned when a key is missing or its entry expired
	ErrKeyNotFound = errors.New("cache: key not found")

	// ErrCacheMiss is an alias for ErrKeyNotFound
	ErrCacheMiss = ErrKeyNotFound

	// ErrInvalidKey is returned when a cache key is empty, too long or contains control characters
	ErrInvalidKey = errors.New("cache: invalid key")

	// ErrInvalidValue is returned when a value or configuration cannot be used
	ErrInvalidValue = errors.New("cache: invalid value")

	// ErrStoreClosed is returned by operations on a closed store
	ErrStoreClosed = errors.New("cache: store closed")
)

// IsNotFound checks if the given error indicates that a key was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// ClassifyError returns a short classification of err for metric labels.
func ClassifyError(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case errors.Is(err, ErrKeyNotFound):
		return "key_not_found"
	case errors.Is(err, ErrInvalidKey):
		return "invalid_key"
	case errors.Is(err, ErrInvalidValue):
		return "invalid_value"
	case errors.Is(err, ErrStoreClosed):
		return "closed"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "connection", "connect", "dial"):
		return "connection"
	case containsAny(msg, "marshal", "unmarshal", "encode", "decode"):
		return "serialization"
	case containsAny(msg, "redis"):
		return "backend"
	default:
		return "other"
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// WrapError wraps an error with the store name and operation.
func WrapError(err error, store string, operation string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("cache store %s %s: %w", store, operation, err)
}
