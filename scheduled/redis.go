package scheduled

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

/*
Redis Schema:

- Hash:       {prefix}msg:{id}        - message fields (sending_time as decimal ms)
- Sorted Set: {prefix}due             - score=sending_time ms, member=id
- Set:        {prefix}sender:{sender} - ids owned by a sender
*/

// RedisStore is a Redis-based scheduled message store.
//
// The due sorted set is the range index used by Pending; the hash is the
// source of truth for the message fields. Writes touching several keys run in
// a MULTI/EXEC pipeline.
type RedisStore struct {
	client       redis.Cmdable
	msgPrefix    string
	dueKey       string
	senderPrefix string
	idGen        IDGenerator
	logger       *slog.Logger
}

// NewRedisStore creates a new Redis scheduled message store.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return (&RedisStore{
		client: client,
		idGen:  NewUUID,
		logger: slog.Default().With("component", "scheduled.redis"),
	}).WithKeyPrefix("sendlater:")
}

// WithKeyPrefix sets a custom key prefix.
func (s *RedisStore) WithKeyPrefix(prefix string) *RedisStore {
	s.msgPrefix = prefix + "msg:"
	s.dueKey = prefix + "due"
	s.senderPrefix = prefix + "sender:"
	return s
}

// WithIDGenerator sets the id allocator used by Add.
func (s *RedisStore) WithIDGenerator(gen IDGenerator) *RedisStore {
	s.idGen = gen
	return s
}

// WithLogger sets a custom logger.
func (s *RedisStore) WithLogger(l *slog.Logger) *RedisStore {
	s.logger = l
	return s
}

// Add stores the message, replacing any record with the same id.
func (s *RedisStore) Add(ctx context.Context, msg *Message) (string, error) {
	if err := assignID(msg, s.idGen); err != nil {
		return "", err
	}

	fields := map[string]interface{}{
		FieldSenderID:    msg.SenderID,
		FieldReceiverID:  msg.ReceiverID,
		FieldContent:     msg.Content,
		FieldSendingTime: strconv.FormatInt(msg.SendingTime, 10),
	}
	if msg.ConversationID != "" {
		fields[FieldConversationID] = msg.ConversationID
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.msgPrefix+msg.ID)
		pipe.HSet(ctx, s.msgPrefix+msg.ID, fields)
		pipe.ZAdd(ctx, s.dueKey, redis.Z{
			Score:  float64(msg.SendingTime),
			Member: msg.ID,
		})
		pipe.SAdd(ctx, s.senderPrefix+msg.SenderID, msg.ID)
		return nil
	})
	if err != nil {
		return "", storeErr("add", err)
	}

	s.logger.Debug("scheduled message",
		"id", msg.ID,
		"sender", msg.SenderID,
		"sending_time", msg.SendingTime)
	return msg.ID, nil
}

// Get returns the message with the given id.
func (s *RedisStore) Get(ctx context.Context, id string) (*Message, error) {
	fields, err := s.client.HGetAll(ctx, s.msgPrefix+id).Result()
	if err != nil {
		return nil, storeErr("get", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return DecodeFields(id, hashFields(fields))
}

// ListForSender returns the valid messages owned by senderID.
func (s *RedisStore) ListForSender(ctx context.Context, senderID string) ([]*Message, error) {
	ids, err := s.client.SMembers(ctx, s.senderPrefix+senderID).Result()
	if err != nil {
		return nil, storeErr("list", err)
	}

	ids, records, err := s.load(ctx, ids)
	if err != nil {
		return nil, storeErr("list", err)
	}

	// the index may outlive a hash written by another client
	var owned []string
	var ownedRecords []Fields
	for i, f := range records {
		if v, _ := f[FieldSenderID].(string); v == senderID {
			owned = append(owned, ids[i])
			ownedRecords = append(ownedRecords, f)
		}
	}
	return decodeAll(s.logger, "sender", owned, ownedRecords), nil
}

// Pending returns valid messages due at now in ascending sending time.
func (s *RedisStore) Pending(ctx context.Context, now time.Time) ([]*Message, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.dueKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, storeErr("pending", err)
	}

	ids, records, err := s.load(ctx, ids)
	if err != nil {
		return nil, storeErr("pending", err)
	}
	return decodeAll(s.logger, "pending", ids, records), nil
}

// Delete removes the message and its index entries. Absent ids are ignored.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	sender, err := s.client.HGet(ctx, s.msgPrefix+id, FieldSenderID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return storeErr("delete", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.msgPrefix+id)
		pipe.ZRem(ctx, s.dueKey, id)
		if sender != "" {
			pipe.SRem(ctx, s.senderPrefix+sender, id)
		}
		return nil
	})
	if err != nil {
		return storeErr("delete", err)
	}
	return nil
}

// BindConversation records a resolved conversation id.
func (s *RedisStore) BindConversation(ctx context.Context, id, conversationID string) error {
	n, err := s.client.Exists(ctx, s.msgPrefix+id).Result()
	if err != nil {
		return storeErr("bind", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	if err := s.client.HSet(ctx, s.msgPrefix+id, FieldConversationID, conversationID).Err(); err != nil {
		return storeErr("bind", err)
	}
	return nil
}

// load fetches the hashes for ids in one pipeline. Ids whose hash no longer
// exists are dropped.
func (s *RedisStore) load(ctx context.Context, ids []string) ([]string, []Fields, error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.msgPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, nil, err
	}

	found := make([]string, 0, len(ids))
	records := make([]Fields, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		found = append(found, ids[i])
		records = append(records, hashFields(fields))
	}
	return found, records, nil
}

func hashFields(h map[string]string) Fields {
	f := make(Fields, len(h))
	for k, v := range h {
		f[k] = v
	}
	return f
}

// Compile-time checks
var (
	_ Store              = (*RedisStore)(nil)
	_ ConversationBinder = (*RedisStore)(nil)
)
