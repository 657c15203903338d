// Package store provides the signal store adapter: a thin client for a
// realtime key-path store with write/read/remove/subscribe semantics. The
// in-memory implementation backs tests and single-process use; the Redis
// implementation is the production backend.
//
// The store guarantees per-path last-write-wins and at-least-once delivery
// to subscribers and nothing more. The signaling protocol above is designed
// to stay correct under reordering and duplicate delivery.
package store

import (
	"context"
	"errors"
)

// Infrastructure errors.
var (
	ErrClosed      = errors.New("store is closed")
	ErrUnavailable = errors.New("store unavailable")
)

// Handler receives value changes for a subscribed path. A nil value means
// the path was deleted. Handlers must not block; they are invoked on their
// own goroutine per event.
type Handler func(ctx context.Context, path string, value []byte)

// Subscription is an active watch that can be closed.
type Subscription interface {
	// Unsubscribe removes the subscription.
	Unsubscribe() error
}

// Store is the key-path store contract consumed by the signaling core.
// All implementations must be safe for concurrent use.
type Store interface {
	// Write sets the value at path, creating or replacing it.
	Write(ctx context.Context, path string, value []byte) error

	// Read returns the value at path, or (nil, nil) if the path is absent.
	Read(ctx context.Context, path string) ([]byte, error)

	// List returns all entries at or below the given path prefix,
	// keyed by full path.
	List(ctx context.Context, prefix string) (map[string][]byte, error)

	// Remove deletes the path. Removing an absent path is not an error.
	Remove(ctx context.Context, path string) error

	// Subscribe watches path and everything below it. The handler fires
	// once for each existing entry at subscribe time, then for every
	// subsequent write and removal (nil value).
	Subscribe(ctx context.Context, path string, handler Handler) (Subscription, error)

	// Ping checks connectivity to the backend.
	Ping(ctx context.Context) error

	// Close shuts down the store client and releases resources.
	Close() error
}

// under reports whether path equals prefix or sits below it.
func under(path, prefix string) bool {
	if len(path) < len(prefix) || path[:len(prefix)] != prefix {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
