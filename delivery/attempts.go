package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// AttemptCounter tracks consecutive delivery failures per message id for the
// dead-letter threshold.
type AttemptCounter interface {
	// Increment adds one failure and returns the new count.
	Increment(ctx context.Context, id string) (int, error)

	// Reset forgets the count for id.
	Reset(ctx context.Context, id string) error
}

// MemoryAttempts counts failures in process memory. Counts are lost on
// restart, so a message gets MaxAttempts fresh tries per process lifetime.
type MemoryAttempts struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewMemoryAttempts creates an empty counter.
func NewMemoryAttempts() *MemoryAttempts {
	return &MemoryAttempts{counts: make(map[string]int)}
}

func (m *MemoryAttempts) Increment(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[id]++
	return m.counts[id], nil
}

func (m *MemoryAttempts) Reset(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counts, id)
	return nil
}

// Count returns the current count for id.
func (m *MemoryAttempts) Count(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[id]
}

// Retain drops the counts of ids not in keep.
func (m *MemoryAttempts) Retain(keep []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.counts) == 0 {
		return
	}
	set := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		set[id] = struct{}{}
	}
	for id := range m.counts {
		if _, ok := set[id]; !ok {
			delete(m.counts, id)
		}
	}
}

/*
Redis Schema:

One counter per failing message, refreshed on every failure:
  INCR   {prefix}{id}
  EXPIRE {prefix}{id} <ttl>
*/

// RedisAttempts counts failures in Redis so the threshold survives restarts
// and is shared by every worker process.
type RedisAttempts struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisAttempts creates a counter whose entries expire ttl after the last
// failure. A non-positive ttl defaults to 24h.
func NewRedisAttempts(client redis.Cmdable, ttl time.Duration) *RedisAttempts {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisAttempts{
		client: client,
		prefix: "sendlater:attempts:",
		ttl:    ttl,
	}
}

// WithPrefix sets the key prefix.
func (r *RedisAttempts) WithPrefix(prefix string) *RedisAttempts {
	r.prefix = prefix
	return r
}

func (r *RedisAttempts) Increment(ctx context.Context, id string) (int, error) {
	key := r.prefix + id

	pipe := r.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis pipeline: %w", err)
	}
	return int(incr.Val()), nil
}

func (r *RedisAttempts) Reset(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.prefix+id).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Compile-time checks
var (
	_ AttemptCounter = (*MemoryAttempts)(nil)
	_ AttemptCounter = (*RedisAttempts)(nil)
)
