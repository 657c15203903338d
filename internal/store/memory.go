package store

import (
	"context"
	"log/slog"
	"sync"
)

// memorySubscription is a watch on a path branch
type memorySubscription struct {
	st      *MemoryStore
	prefix  string
	handler Handler
	id      uint64
}

func (s *memorySubscription) Unsubscribe() error {
	s.st.unsubscribe(s.id)
	return nil
}

// MemoryStore implements Store using in-process maps. Suitable for tests
// and single-instance deployments where both call parties share a process.
type MemoryStore struct {
	mu          sync.RWMutex
	values      map[string][]byte
	subscribers map[uint64]*memorySubscription
	nextID      uint64
	closed      bool
	logger      *slog.Logger
}

// NewMemoryStore creates a new in-memory store instance
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:      make(map[string][]byte),
		subscribers: make(map[uint64]*memorySubscription),
		logger:      slog.Default().With("component", "store"),
	}
}

// Write sets the value at path and notifies watchers
func (st *MemoryStore) Write(ctx context.Context, path string, value []byte) error {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return ErrClosed
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	st.values[path] = buf
	handlers := st.watchersOf(path)
	st.mu.Unlock()

	st.dispatch(ctx, handlers, path, buf)
	return nil
}

// Read returns the value at path, or (nil, nil) when absent
func (st *MemoryStore) Read(ctx context.Context, path string) ([]byte, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.closed {
		return nil, ErrClosed
	}
	v, ok := st.values[path]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// List returns all entries at or below prefix
func (st *MemoryStore) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.closed {
		return nil, ErrClosed
	}
	out := make(map[string][]byte)
	for p, v := range st.values {
		if under(p, prefix) {
			buf := make([]byte, len(v))
			copy(buf, v)
			out[p] = buf
		}
	}
	return out, nil
}

// Remove deletes the path and notifies watchers with a nil value
func (st *MemoryStore) Remove(ctx context.Context, path string) error {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return ErrClosed
	}
	_, existed := st.values[path]
	delete(st.values, path)
	handlers := st.watchersOf(path)
	st.mu.Unlock()

	if existed {
		st.dispatch(ctx, handlers, path, nil)
	}
	return nil
}

// Subscribe registers a handler for the path branch. Existing entries are
// replayed to the handler before live changes arrive.
func (st *MemoryStore) Subscribe(ctx context.Context, path string, handler Handler) (Subscription, error) {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return nil, ErrClosed
	}

	st.nextID++
	sub := &memorySubscription{st: st, prefix: path, handler: handler, id: st.nextID}
	st.subscribers[sub.id] = sub

	// Snapshot existing entries for initial delivery
	initial := make(map[string][]byte)
	for p, v := range st.values {
		if under(p, path) {
			buf := make([]byte, len(v))
			copy(buf, v)
			initial[p] = buf
		}
	}
	st.mu.Unlock()

	for p, v := range initial {
		go handler(ctx, p, v)
	}

	return sub, nil
}

// Ping always succeeds while the store is open
func (st *MemoryStore) Ping(ctx context.Context) error {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.closed {
		return ErrClosed
	}
	return nil
}

// Close shuts down the store and prevents new operations
func (st *MemoryStore) Close() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.closed = true
	st.values = make(map[string][]byte)
	st.subscribers = make(map[uint64]*memorySubscription)
	return nil
}

// watchersOf collects handlers watching the given path.
// Caller must hold st.mu.
func (st *MemoryStore) watchersOf(path string) []Handler {
	var handlers []Handler
	for _, sub := range st.subscribers {
		if under(path, sub.prefix) {
			handlers = append(handlers, sub.handler)
		}
	}
	return handlers
}

func (st *MemoryStore) dispatch(ctx context.Context, handlers []Handler, path string, value []byte) {
	for _, h := range handlers {
		// Call in goroutine to avoid blocking the writer
		go h(ctx, path, value)
	}
}

func (st *MemoryStore) unsubscribe(id uint64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.subscribers, id)
}

// SubscriberCount returns the number of active watches (useful for testing)
func (st *MemoryStore) SubscriberCount() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.subscribers)
}
