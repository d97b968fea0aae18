package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still carries our token, so a
// holder whose key expired cannot release someone else's acquisition.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Guard shared by every process using the same Redis.
//
// Redis Commands Used:
//   - SET NX with expiry: atomic acquire
//   - EVAL compare-and-delete: release
//
// The TTL bounds how long a crashed holder blocks an id. It should exceed the
// time a single delivery can take.
type Redis struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string

	mu     sync.Mutex
	tokens map[string]string
}

// NewRedis creates a Redis-backed guard.
func NewRedis(client redis.Cmdable, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Redis{
		client: client,
		ttl:    ttl,
		prefix: "sendlater:inflight:",
		tokens: make(map[string]string),
	}
}

// WithPrefix sets a custom key prefix.
func (r *Redis) WithPrefix(prefix string) *Redis {
	r.prefix = prefix
	return r
}

// TryAcquire sets the id key if it does not exist.
func (r *Redis) TryAcquire(ctx context.Context, id string) (bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.prefix+id, token, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}
	if !ok {
		return false, nil
	}

	r.mu.Lock()
	r.tokens[id] = token
	r.mu.Unlock()
	return true, nil
}

// Release deletes the id key if this guard still owns it.
func (r *Redis) Release(ctx context.Context, id string) error {
	r.mu.Lock()
	token, ok := r.tokens[id]
	delete(r.tokens, id)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if err := releaseScript.Run(ctx, r.client, []string{r.prefix + id}, token).Err(); err != nil {
		return fmt.Errorf("release: %w", err)
	}
	return nil
}

var _ Guard = (*Redis)(nil)
