package scheduled

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
	"syreclabs.com/go/faker"
)

// rawWriter stores a record bypassing validation, the way another client
// sharing the backend could.
type rawWriter func(t *testing.T, id string, f Fields)

type storeFactory func(t *testing.T) (Store, rawWriter)

func newMemoryFactory(t *testing.T) (Store, rawWriter) {
	s := NewMemoryStore()
	return s, func(t *testing.T, id string, f Fields) {
		s.Import(id, f)
	}
}

func newRedisFactory(t *testing.T) (Store, rawWriter) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	s := NewRedisStore(rdb).WithKeyPrefix("test:")
	return s, func(t *testing.T, id string, f Fields) {
		ctx := context.Background()
		hash := map[string]interface{}{}
		for k, v := range f {
			switch tv := v.(type) {
			case string:
				hash[k] = tv
			case int64:
				hash[k] = strconv.FormatInt(tv, 10)
			}
		}
		if len(hash) > 0 {
			if err := rdb.HSet(ctx, "test:msg:"+id, hash).Err(); err != nil {
				t.Fatalf("hset: %v", err)
			}
		}
		if ts, err := ParseSendingTime(f[FieldSendingTime]); err == nil {
			rdb.ZAdd(ctx, "test:due", redis.Z{Score: float64(ts), Member: id})
		}
		if sender, ok := f[FieldSenderID].(string); ok && sender != "" {
			rdb.SAdd(ctx, "test:sender:"+sender, id)
		}
	}
}

func TestMemoryStore(t *testing.T) {
	testStore(t, newMemoryFactory)
}

func TestRedisStore(t *testing.T) {
	testStore(t, newRedisFactory)
}

func randomMessage(sender string, at int64) *Message {
	return &Message{
		SenderID:    sender,
		ReceiverID:  faker.Internet().UserName(),
		Content:     faker.Lorem().Sentence(5),
		SendingTime: at,
	}
}

func testStore(t *testing.T, factory storeFactory) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)

	t.Run("Add assigns id and Get round-trips", func(t *testing.T) {
		store, _ := factory(t)

		msg := randomMessage("alice", now.UnixMilli())
		msg.ConversationID = "conv-1"
		id, err := store.Add(ctx, msg)
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		if id == "" || msg.ID != id {
			t.Fatalf("expected generated id on message, got %q / %q", id, msg.ID)
		}

		got, err := store.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if diff := cmp.Diff(msg, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Add keeps caller id", func(t *testing.T) {
		store, _ := factory(t)

		msg := randomMessage("alice", now.UnixMilli())
		msg.ID = "fixed-id"
		id, err := store.Add(ctx, msg)
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		if id != "fixed-id" {
			t.Errorf("expected fixed-id, got %q", id)
		}
	})

	t.Run("Add with existing id replaces the whole record", func(t *testing.T) {
		store, _ := factory(t)

		first := randomMessage("alice", now.UnixMilli())
		first.ID = "fixed-id"
		first.ConversationID = "conv-old"
		if _, err := store.Add(ctx, first); err != nil {
			t.Fatalf("Add failed: %v", err)
		}

		second := randomMessage("alice", now.Add(time.Hour).UnixMilli())
		second.ID = "fixed-id"
		if _, err := store.Add(ctx, second); err != nil {
			t.Fatalf("Add failed: %v", err)
		}

		got, err := store.Get(ctx, "fixed-id")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if diff := cmp.Diff(second, got); diff != "" {
			t.Errorf("replaced record mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Add rejects missing fields", func(t *testing.T) {
		store, _ := factory(t)

		msg := randomMessage("alice", now.UnixMilli())
		msg.Content = ""
		if _, err := store.Add(ctx, msg); !errors.Is(err, ErrInvalidMessage) {
			t.Errorf("expected ErrInvalidMessage, got %v", err)
		}
	})

	t.Run("Get unknown id returns ErrNotFound", func(t *testing.T) {
		store, _ := factory(t)

		if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Pending is inclusive of now", func(t *testing.T) {
		store, _ := factory(t)

		atNow := randomMessage("alice", now.UnixMilli())
		later := randomMessage("alice", now.UnixMilli()+1)
		earlier := randomMessage("bob", now.Add(-time.Hour).UnixMilli())
		for _, m := range []*Message{atNow, later, earlier} {
			if _, err := store.Add(ctx, m); err != nil {
				t.Fatalf("Add failed: %v", err)
			}
		}

		pending, err := store.Pending(ctx, now)
		if err != nil {
			t.Fatalf("Pending failed: %v", err)
		}
		if len(pending) != 2 {
			t.Fatalf("expected 2 pending, got %d", len(pending))
		}
		if pending[0].ID != earlier.ID || pending[1].ID != atNow.ID {
			t.Errorf("expected ascending sending time, got %s then %s", pending[0].ID, pending[1].ID)
		}
	})

	t.Run("ListForSender returns only own messages", func(t *testing.T) {
		store, _ := factory(t)

		for i := 0; i < 3; i++ {
			store.Add(ctx, randomMessage("alice", now.UnixMilli()+int64(i)))
		}
		store.Add(ctx, randomMessage("bob", now.UnixMilli()))

		list, err := store.ListForSender(ctx, "alice")
		if err != nil {
			t.Fatalf("ListForSender failed: %v", err)
		}
		if len(list) != 3 {
			t.Fatalf("expected 3 messages, got %d", len(list))
		}
		for _, m := range list {
			if m.SenderID != "alice" {
				t.Errorf("unexpected sender %q", m.SenderID)
			}
		}
	})

	t.Run("malformed records are skipped", func(t *testing.T) {
		store, raw := factory(t)

		valid := randomMessage("alice", now.UnixMilli())
		store.Add(ctx, valid)

		raw(t, "no-content", Fields{
			FieldSenderID:    "alice",
			FieldReceiverID:  "bob",
			FieldSendingTime: now.UnixMilli(),
		})
		raw(t, "bad-time", Fields{
			FieldSenderID:    "alice",
			FieldReceiverID:  "bob",
			FieldContent:     "hi",
			FieldSendingTime: "tomorrow",
		})

		list, err := store.ListForSender(ctx, "alice")
		if err != nil {
			t.Fatalf("ListForSender failed: %v", err)
		}
		if len(list) != 1 || list[0].ID != valid.ID {
			t.Errorf("expected only the valid message, got %d", len(list))
		}

		pending, err := store.Pending(ctx, now)
		if err != nil {
			t.Fatalf("Pending failed: %v", err)
		}
		if len(pending) != 1 || pending[0].ID != valid.ID {
			t.Errorf("expected only the valid message pending, got %d", len(pending))
		}

		if _, err := store.Get(ctx, "no-content"); !errors.Is(err, ErrMalformed) {
			t.Errorf("expected ErrMalformed from Get, got %v", err)
		}
	})

	t.Run("legacy string sending time is readable", func(t *testing.T) {
		store, raw := factory(t)

		raw(t, "legacy", Fields{
			FieldSenderID:    "alice",
			FieldReceiverID:  "bob",
			FieldContent:     "hi",
			FieldSendingTime: strconv.FormatInt(now.UnixMilli(), 10),
		})

		got, err := store.Get(ctx, "legacy")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.SendingTime != now.UnixMilli() {
			t.Errorf("expected %d, got %d", now.UnixMilli(), got.SendingTime)
		}
	})

	t.Run("Delete is idempotent", func(t *testing.T) {
		store, _ := factory(t)

		msg := randomMessage("alice", now.UnixMilli())
		store.Add(ctx, msg)

		if err := store.Delete(ctx, msg.ID); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if err := store.Delete(ctx, msg.ID); err != nil {
			t.Errorf("second Delete should not error: %v", err)
		}
		if _, err := store.Get(ctx, msg.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}

		pending, _ := store.Pending(ctx, now)
		if len(pending) != 0 {
			t.Errorf("expected no pending after delete, got %d", len(pending))
		}
		list, _ := store.ListForSender(ctx, "alice")
		if len(list) != 0 {
			t.Errorf("expected empty outbox after delete, got %d", len(list))
		}
	})

	t.Run("BindConversation sets conversation id", func(t *testing.T) {
		store, _ := factory(t)
		binder, ok := store.(ConversationBinder)
		if !ok {
			t.Skip("store does not bind conversations")
		}

		msg := randomMessage("alice", now.UnixMilli())
		store.Add(ctx, msg)

		if err := binder.BindConversation(ctx, msg.ID, "conv-9"); err != nil {
			t.Fatalf("BindConversation failed: %v", err)
		}
		got, _ := store.Get(ctx, msg.ID)
		if got.ConversationID != "conv-9" {
			t.Errorf("expected conv-9, got %q", got.ConversationID)
		}

		if err := binder.BindConversation(ctx, "missing", "conv-9"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestIDGeneration(t *testing.T) {
	ctx := context.Background()

	t.Run("generator failure is reported", func(t *testing.T) {
		store := NewMemoryStore().WithIDGenerator(func() (string, error) {
			return "", errors.New("allocator down")
		})

		_, err := store.Add(ctx, randomMessage("alice", time.Now().UnixMilli()))
		if !errors.Is(err, ErrIDGeneration) {
			t.Errorf("expected ErrIDGeneration, got %v", err)
		}
		if store.Len() != 0 {
			t.Errorf("expected nothing stored, got %d", store.Len())
		}
	})

	t.Run("empty generated id is rejected", func(t *testing.T) {
		store := NewMemoryStore().WithIDGenerator(func() (string, error) {
			return "", nil
		})

		_, err := store.Add(ctx, randomMessage("alice", time.Now().UnixMilli()))
		if !errors.Is(err, ErrIDGeneration) {
			t.Errorf("expected ErrIDGeneration, got %v", err)
		}
	})

	t.Run("redis store surfaces write failures as StoreError", func(t *testing.T) {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("miniredis: %v", err)
		}
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer rdb.Close()
		mr.Close()

		_, err = NewRedisStore(rdb).Add(ctx, randomMessage("alice", time.Now().UnixMilli()))
		var se *StoreError
		if !errors.As(err, &se) {
			t.Fatalf("expected StoreError, got %v", err)
		}
		if se.Op != "add" {
			t.Errorf("expected op add, got %q", se.Op)
		}
	})
}
