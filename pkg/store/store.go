// Package store defines the persistent key-value store the cache and the
// offline queue are built on, together with Redis-backed and in-memory
// implementations.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates the requested key does not exist in the store.
	ErrNotFound = errors.New("store: key not found")
)

// Store is a byte-oriented persistent key-value store.
//
// Every method may fail; callers on cache read paths must treat a failure as
// "value not available" rather than propagating it as a crash.
type Store interface {
	// Save persists value under key, overwriting any previous value.
	Save(ctx context.Context, key string, value []byte) error

	// Get returns the value stored under key.
	// Returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Remove deletes the value stored under key.
	// Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Clear removes every value in the store's namespace.
	Clear(ctx context.Context) error

	// MultiGet returns the values for the given keys.
	// Missing keys are absent from the result map, not errors.
	MultiGet(ctx context.Context, keys []string) (map[string][]byte, error)

	// MultiSet persists all given key/value pairs.
	MultiSet(ctx context.Context, values map[string][]byte) error
}
