// Package storage provides the durable key-value tier backing the health
// data cache. The Store interface mirrors async device storage: string keys,
// opaque byte values, and a not-found sentinel callers must branch on.
package storage

import (
	"context"

	"github.com/c360/healthbridge/errors"
)

// ErrNotFound is returned by GetItem when the key has no value. Aliased so
// callers depend on this package, not on the errors package's layout.
var ErrNotFound = errors.ErrKeyNotFound

// Store is the persistence contract for cache entries and sync state.
// Implementations must be safe for concurrent use. All operations honor
// context cancellation.
type Store interface {
	// GetItem returns the value for key, or ErrNotFound.
	GetItem(ctx context.Context, key string) ([]byte, error)

	// SetItem stores value under key, overwriting any previous value.
	SetItem(ctx context.Context, key string, value []byte) error

	// RemoveItem deletes key. Removing an absent key is not an error.
	RemoveItem(ctx context.Context, key string) error

	// Keys returns every stored key with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases the store's resources.
	Close() error
}
