package trigger

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// State is the persisted schedule of a DurableJob.
type State struct {
	// NextRun is when the job should run next. Zero means never scheduled.
	NextRun time.Time

	// Attempts counts consecutive runs that asked for a retry.
	Attempts int
}

// StateStore persists DurableJob schedules by job name.
type StateStore interface {
	// Load returns the stored state, or a zero State if none exists.
	Load(ctx context.Context, name string) (State, error)

	// Save replaces the stored state.
	Save(ctx context.Context, name string, st State) error
}

// MemoryStateStore keeps state in process memory. The schedule does not
// survive a restart; use it in tests and single-shot tools.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]State
}

// NewMemoryStateStore creates an empty store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]State)}
}

func (s *MemoryStateStore) Load(_ context.Context, name string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[name], nil
}

func (s *MemoryStateStore) Save(_ context.Context, name string, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[name] = st
	return nil
}

/*
Redis Schema:

One hash per job:
  HSET {prefix}{name} next_run <epoch ms> attempts <n>
*/

// RedisStateStore persists job state in Redis.
type RedisStateStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStateStore creates a store with key prefix "sendlater:trigger:".
func NewRedisStateStore(client redis.Cmdable) *RedisStateStore {
	return &RedisStateStore{
		client: client,
		prefix: "sendlater:trigger:",
	}
}

// WithPrefix sets the key prefix.
func (s *RedisStateStore) WithPrefix(prefix string) *RedisStateStore {
	s.prefix = prefix
	return s
}

func (s *RedisStateStore) key(name string) string {
	return s.prefix + name
}

func (s *RedisStateStore) Load(ctx context.Context, name string) (State, error) {
	vals, err := s.client.HGetAll(ctx, s.key(name)).Result()
	if err != nil {
		return State{}, fmt.Errorf("hgetall: %w", err)
	}
	if len(vals) == 0 {
		return State{}, nil
	}

	var st State
	if v, ok := vals["next_run"]; ok && v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return State{}, fmt.Errorf("parse next_run %q: %w", v, err)
		}
		st.NextRun = time.UnixMilli(ms)
	}
	if v, ok := vals["attempts"]; ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return State{}, fmt.Errorf("parse attempts %q: %w", v, err)
		}
		st.Attempts = n
	}
	return st, nil
}

func (s *RedisStateStore) Save(ctx context.Context, name string, st State) error {
	var next int64
	if !st.NextRun.IsZero() {
		next = st.NextRun.UnixMilli()
	}
	err := s.client.HSet(ctx, s.key(name),
		"next_run", strconv.FormatInt(next, 10),
		"attempts", strconv.Itoa(st.Attempts),
	).Err()
	if err != nil {
		return fmt.Errorf("hset: %w", err)
	}
	return nil
}

// Compile-time checks
var (
	_ StateStore = (*MemoryStateStore)(nil)
	_ StateStore = (*RedisStateStore)(nil)
)
