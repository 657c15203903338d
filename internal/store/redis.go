package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "dialtone:signal:"
	channelPrefix = "dialtone:ch:"
)

// changeEvent is the fan-out envelope published alongside every write and
// removal. A nil Value means the path was deleted.
type changeEvent struct {
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}

// RedisStore implements Store on Redis: values live at keys, change fan-out
// rides Redis pub/sub channels named after the written path. Writers on one
// instance reach subscribers on all instances.
type RedisStore struct {
	client        *redis.Client
	mu            sync.RWMutex
	subscriptions map[uint64]*redisStoreSubscription
	nextID        atomic.Uint64
	closed        bool
	logger        *slog.Logger
}

// redisStoreSubscription manages a single branch watch
type redisStoreSubscription struct {
	st      *RedisStore
	id      uint64
	prefix  string
	pubsub  *redis.PubSub
	cancel  context.CancelFunc
	handler Handler
}

func (s *redisStoreSubscription) Unsubscribe() error {
	s.cancel()
	if s.pubsub != nil {
		s.pubsub.Close()
	}
	s.st.removeSub(s.id)
	return nil
}

// NewRedisStore creates a Redis-backed store client.
// url should be in the format: redis://host:port or redis://:password@host:port
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	logger := slog.Default().With("component", "store", "backend", "redis")
	logger.Info("connected to Redis", "addr", opts.Addr)

	return &RedisStore{
		client:        client,
		subscriptions: make(map[uint64]*redisStoreSubscription),
		logger:        logger,
	}, nil
}

// Write sets the value at path and publishes the change
func (st *RedisStore) Write(ctx context.Context, path string, value []byte) error {
	if err := st.checkOpen(); err != nil {
		return err
	}

	if err := st.client.Set(ctx, keyPrefix+path, value, 0).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrUnavailable, path, err)
	}
	return st.publish(ctx, path, value)
}

// Read returns the value at path, or (nil, nil) when absent
func (st *RedisStore) Read(ctx context.Context, path string) ([]byte, error) {
	if err := st.checkOpen(); err != nil {
		return nil, err
	}

	val, err := st.client.Get(ctx, keyPrefix+path).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", ErrUnavailable, path, err)
	}
	return val, nil
}

// List returns all entries at or below prefix
func (st *RedisStore) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	if err := st.checkOpen(); err != nil {
		return nil, err
	}

	out := make(map[string][]byte)
	iter := st.client.Scan(ctx, 0, keyPrefix+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		path := strings.TrimPrefix(key, keyPrefix)
		if !under(path, prefix) {
			continue
		}
		val, err := st.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue // deleted between scan and get
		}
		if err != nil {
			return nil, fmt.Errorf("%w: get %s: %v", ErrUnavailable, path, err)
		}
		out[path] = val
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan %s: %v", ErrUnavailable, prefix, err)
	}
	return out, nil
}

// Remove deletes the path and publishes the deletion
func (st *RedisStore) Remove(ctx context.Context, path string) error {
	if err := st.checkOpen(); err != nil {
		return err
	}

	n, err := st.client.Del(ctx, keyPrefix+path).Result()
	if err != nil {
		return fmt.Errorf("%w: del %s: %v", ErrUnavailable, path, err)
	}
	if n == 0 {
		return nil
	}
	return st.publish(ctx, path, nil)
}

// Subscribe watches the path branch across all instances. Existing entries
// are replayed before live changes arrive.
func (st *RedisStore) Subscribe(ctx context.Context, path string, handler Handler) (Subscription, error) {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return nil, ErrClosed
	}

	// Exact channel plus everything below the branch
	pubsub := st.client.PSubscribe(ctx, channelPrefix+path, channelPrefix+path+"/*")
	if _, err := pubsub.Receive(ctx); err != nil {
		st.mu.Unlock()
		pubsub.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %v", ErrUnavailable, path, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())

	id := st.nextID.Add(1)
	sub := &redisStoreSubscription{
		st:      st,
		id:      id,
		prefix:  path,
		pubsub:  pubsub,
		cancel:  cancel,
		handler: handler,
	}
	st.subscriptions[id] = sub
	st.mu.Unlock()

	go st.receiveChanges(subCtx, sub)

	// Initial replay of existing entries
	existing, err := st.List(ctx, path)
	if err != nil {
		sub.Unsubscribe()
		return nil, err
	}
	for p, v := range existing {
		go handler(ctx, p, v)
	}

	st.logger.Debug("subscribed to branch", "path", path, "sub_id", id)
	return sub, nil
}

// receiveChanges listens on the pub/sub channels and dispatches to the handler
func (st *RedisStore) receiveChanges(ctx context.Context, sub *redisStoreSubscription) {
	ch := sub.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var ev changeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				st.logger.Error("failed to unmarshal change event", "error", err, "channel", msg.Channel)
				continue
			}
			if !under(ev.Path, sub.prefix) {
				continue
			}

			go sub.handler(ctx, ev.Path, ev.Value)
		}
	}
}

// Ping checks connectivity to Redis
func (st *RedisStore) Ping(ctx context.Context) error {
	if err := st.checkOpen(); err != nil {
		return err
	}
	if err := st.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close shuts down the store client and all watches
func (st *RedisStore) Close() error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return nil
	}
	st.closed = true

	for _, sub := range st.subscriptions {
		sub.cancel()
		if sub.pubsub != nil {
			sub.pubsub.Close()
		}
	}
	st.subscriptions = make(map[uint64]*redisStoreSubscription)

	if err := st.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}

	st.logger.Info("redis store closed")
	return nil
}

func (st *RedisStore) publish(ctx context.Context, path string, value []byte) error {
	payload, err := json.Marshal(changeEvent{Path: path, Value: value})
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}
	if err := st.client.Publish(ctx, channelPrefix+path, payload).Err(); err != nil {
		return fmt.Errorf("%w: publish %s: %v", ErrUnavailable, path, err)
	}
	return nil
}

func (st *RedisStore) checkOpen() error {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.closed {
		return ErrClosed
	}
	return nil
}

func (st *RedisStore) removeSub(id uint64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.subscriptions, id)
}
