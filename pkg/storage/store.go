// Package storage provides the durable key/value abstraction used for
// client-side buffering state. Keys hold whole serialized values and are
// overwritten wholesale on each write; there are no partial updates.
//
// The abstraction is a capability parameter: callers inject a Store rather
// than reaching for ambient browser storage, which keeps the buffer
// testable without a real storage backend.
package storage

import "context"

// Store is a plain string key/value store.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value for key. The second return value is false
	// when the key is absent.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set overwrites the value for key wholesale.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases resources held by the store.
	Close() error
}
