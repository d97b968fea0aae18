package deadletter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

/*
Redis Schema:

- Hash:       {prefix}entry:{id} - entry fields
- Sorted Set: {prefix}entries    - score=created_at ms, member=id
*/

// RedisStore is a Redis-based dead-letter store.
type RedisStore struct {
	client      redis.Cmdable
	entryPrefix string
	indexKey    string
}

// NewRedisStore creates a new Redis dead-letter store.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return (&RedisStore{client: client}).WithKeyPrefix("sendlater:dead:")
}

// WithKeyPrefix sets a custom key prefix.
func (s *RedisStore) WithKeyPrefix(prefix string) *RedisStore {
	s.entryPrefix = prefix + "entry:"
	s.indexKey = prefix + "entries"
	return s
}

// Store adds or replaces the entry.
func (s *RedisStore) Store(ctx context.Context, e *Entry) error {
	fields := map[string]interface{}{
		"sender_id":       e.SenderID,
		"receiver_id":     e.ReceiverID,
		"message_content": e.Content,
		"sending_time":    e.SendingTime,
		"conversation_id": e.ConversationID,
		"error":           e.Error,
		"attempts":        e.Attempts,
		"created_at":      e.CreatedAt.UnixMilli(),
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.entryPrefix+e.ID, fields)
		pipe.ZAdd(ctx, s.indexKey, redis.Z{
			Score:  float64(e.CreatedAt.UnixMilli()),
			Member: e.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

// Get returns the entry.
func (s *RedisStore) Get(ctx context.Context, id string) (*Entry, error) {
	fields, err := s.client.HGetAll(ctx, s.entryPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return parseEntry(id, fields), nil
}

// List returns entries matching the filter, oldest first.
func (s *RedisStore) List(ctx context.Context, filter Filter) ([]*Entry, error) {
	upper := "+inf"
	if !filter.Before.IsZero() {
		upper = "(" + strconv.FormatInt(filter.Before.UnixMilli(), 10)
	}
	ids, err := s.client.ZRangeByScore(ctx, s.indexKey, &redis.ZRangeBy{Min: "-inf", Max: upper}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore: %w", err)
	}

	var result []*Entry
	for _, id := range ids {
		e, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !filter.match(e) {
			continue
		}
		result = append(result, e)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

// Delete removes the entry.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.entryPrefix+id)
		pipe.ZRem(ctx, s.indexKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

func parseEntry(id string, fields map[string]string) *Entry {
	e := &Entry{
		ID:             id,
		SenderID:       fields["sender_id"],
		ReceiverID:     fields["receiver_id"],
		Content:        fields["message_content"],
		ConversationID: fields["conversation_id"],
		Error:          fields["error"],
	}
	e.SendingTime, _ = strconv.ParseInt(fields["sending_time"], 10, 64)
	e.Attempts, _ = strconv.Atoi(fields["attempts"])
	if ms, err := strconv.ParseInt(fields["created_at"], 10, 64); err == nil {
		e.CreatedAt = time.UnixMilli(ms)
	}
	return e
}

var _ Store = (*RedisStore)(nil)
