// Package cache defines the narrow key-value contract every other
// component of the relay depends on, plus the two backends that satisfy it.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCASConflict is returned by Cache when a compare-and-swap lost the race
// against a concurrent writer.
var ErrCASConflict = errors.New("cache: compare-and-swap conflict")

// Cache is the storage contract shared by the channel engine and the
// filtering layer. A TTL of 0 means "no expiry". Every operation is safe for
// concurrent use.
type Cache interface {
	// Get returns the stored value and true, or nil and false if absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Add inserts only if key is absent. Returns whether it was inserted.
	Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Set overwrites unconditionally. Returns whether it was persisted.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete removes key if present. Absence is also success.
	Delete(ctx context.Context, key string) (bool, error)

	// Incr atomically increments an integer value stored at key. Returns the
	// new value and true, or false if the key does not exist.
	Incr(ctx context.Context, key string) (int64, bool, error)

	// Gets reads a value together with an opaque CAS token.
	Gets(ctx context.Context, key string) ([]byte, string, bool, error)

	// CAS writes value at key only if the stored CAS token still matches
	// token. Returns ErrCASConflict if it doesn't.
	CAS(ctx context.Context, key string, value []byte, token string, ttl time.Duration) error
}
