package execution

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyStore tracks which step idempotency keys have already
// completed successfully, so a retried or duplicated run skips the
// step instead of repeating its side effects. An in-memory store
// suffices for conformance (per spec.md §4.9); RedisIdempotencyStore
// is the distributed alternative for multi-instance deployments,
// grounded on internal/infra/redis_adapter.go's GoRedisAdapter wrapping
// idiom.
type IdempotencyStore interface {
	IsDone(ctx context.Context, key string) bool
	MarkDone(ctx context.Context, key string) error
}

// MemoryIdempotencyStore is the default IdempotencyStore, backed by a
// plain map under its own mutex.
type MemoryIdempotencyStore struct {
	mu   sync.Mutex
	done map[string]bool
}

// NewMemoryIdempotencyStore returns an empty in-memory store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{done: make(map[string]bool)}
}

func (s *MemoryIdempotencyStore) IsDone(ctx context.Context, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done[key]
}

func (s *MemoryIdempotencyStore) MarkDone(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done[key] = true
	return nil
}

// RedisIdempotencyStore persists idempotency markers in Redis with a
// TTL, so the dedup window survives an engine restart and is shared
// across every instance pointed at the same workflow. Wraps go-redis
// v9 the same way internal/infra.GoRedisAdapter wraps it for the
// teacher's hub/event-bus stores.
type RedisIdempotencyStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisIdempotencyStore wraps an existing go-redis client. keys are
// marked done with the given ttl; ttl <= 0 means the marker never
// expires.
func NewRedisIdempotencyStore(rdb *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{rdb: rdb, ttl: ttl}
}

func (s *RedisIdempotencyStore) IsDone(ctx context.Context, key string) bool {
	n, err := s.rdb.Exists(ctx, redisIdempotencyKey(key)).Result()
	return err == nil && n > 0
}

func (s *RedisIdempotencyStore) MarkDone(ctx context.Context, key string) error {
	return s.rdb.Set(ctx, redisIdempotencyKey(key), "1", s.ttl).Err()
}

func redisIdempotencyKey(key string) string {
	return "nchat:execution:idempotency:" + key
}
