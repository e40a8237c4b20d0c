package kvstore

import (
	"context"
	"errors"
)

var ErrKeyNotFound = errors.New("key not found")

// Watcher receives change notifications for keys written by other owners of
// the same store. The value is the raw bytes as written; consumers re-parse
// rather than trust its shape.
type Watcher func(key string, value []byte)

// Store is the injectable key-value byte store the cart persists into.
// Consumers define this interface, not the concrete backend.
type Store interface {
	// Get returns the raw bytes for key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes the raw bytes for key and notifies watchers.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key; removing an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Subscribe registers a watcher for external changes and returns its
	// unsubscribe function. A nil value in the notification means deletion.
	Subscribe(w Watcher) (unsubscribe func())
}
