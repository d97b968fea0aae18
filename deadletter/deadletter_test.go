package deadletter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
	"github.com/rbaliyan/sendlater/scheduled"
	"syreclabs.com/go/faker"
)

func randomEntry(id, sender string, createdAt time.Time) *Entry {
	return &Entry{
		ID:          id,
		SenderID:    sender,
		ReceiverID:  faker.Internet().UserName(),
		Content:     faker.Lorem().Sentence(5),
		SendingTime: createdAt.Add(-time.Hour).UnixMilli(),
		Error:       "conversation not found",
		Attempts:    3,
		CreatedAt:   createdAt,
	}
}

func TestStores(t *testing.T) {
	factories := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { rdb.Close() })
			return NewRedisStore(rdb)
		},
	}

	for name, newStore := range factories {
		t.Run(name, func(t *testing.T) {
			testStore(t, newStore)
		})
	}
}

func testStore(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	t.Run("Store and Get round trip", func(t *testing.T) {
		store := newStore(t)
		e := randomEntry("m1", "alice", base)

		if err := store.Store(ctx, e); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
		got, err := store.Get(ctx, "m1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if diff := cmp.Diff(e, got); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Get unknown returns ErrNotFound", func(t *testing.T) {
		store := newStore(t)
		if _, err := store.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("List filters and orders oldest first", func(t *testing.T) {
		store := newStore(t)
		store.Store(ctx, randomEntry("m3", "alice", base.Add(2*time.Minute)))
		store.Store(ctx, randomEntry("m1", "alice", base))
		store.Store(ctx, randomEntry("m2", "bob", base.Add(time.Minute)))

		all, err := store.List(ctx, Filter{})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(all) != 3 || all[0].ID != "m1" || all[2].ID != "m3" {
			t.Errorf("unexpected order: %v", ids(all))
		}

		alice, _ := store.List(ctx, Filter{SenderID: "alice"})
		if diff := cmp.Diff([]string{"m1", "m3"}, ids(alice)); diff != "" {
			t.Errorf("sender filter mismatch (-want +got):\n%s", diff)
		}

		old, _ := store.List(ctx, Filter{Before: base.Add(time.Minute)})
		if diff := cmp.Diff([]string{"m1"}, ids(old)); diff != "" {
			t.Errorf("before filter mismatch (-want +got):\n%s", diff)
		}

		limited, _ := store.List(ctx, Filter{Limit: 2})
		if len(limited) != 2 {
			t.Errorf("expected 2 entries, got %d", len(limited))
		}
	})

	t.Run("Delete removes the entry", func(t *testing.T) {
		store := newStore(t)
		store.Store(ctx, randomEntry("m1", "alice", base))

		if err := store.Delete(ctx, "m1"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if err := store.Delete(ctx, "m1"); err != nil {
			t.Errorf("second Delete should not error: %v", err)
		}
		list, _ := store.List(ctx, Filter{})
		if len(list) != 0 {
			t.Errorf("expected empty store, got %d", len(list))
		}
	})
}

func TestManager(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	clock := func() time.Time { return now }

	t.Run("Replay reschedules due now and removes the entry", func(t *testing.T) {
		dl := NewMemoryStore()
		target := scheduled.NewMemoryStore()
		e := randomEntry("m1", "alice", now.Add(-time.Hour))
		e.ConversationID = "conv-1"
		dl.Store(ctx, e)

		if err := NewManager(dl, target).WithClock(clock).Replay(ctx, "m1"); err != nil {
			t.Fatalf("Replay failed: %v", err)
		}

		msg, err := target.Get(ctx, "m1")
		if err != nil {
			t.Fatalf("expected rescheduled message: %v", err)
		}
		if msg.SendingTime != now.UnixMilli() || msg.ConversationID != "conv-1" || msg.Content != e.Content {
			t.Errorf("unexpected rescheduled message %+v", msg)
		}
		if dl.Len() != 0 {
			t.Error("expected dead letter removed")
		}
	})

	t.Run("Replay of unknown id fails", func(t *testing.T) {
		m := NewManager(NewMemoryStore(), scheduled.NewMemoryStore())
		if err := m.Replay(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ReplayAll replays matching entries", func(t *testing.T) {
		dl := NewMemoryStore()
		target := scheduled.NewMemoryStore()
		dl.Store(ctx, randomEntry("m1", "alice", now.Add(-time.Hour)))
		dl.Store(ctx, randomEntry("m2", "alice", now.Add(-time.Minute)))
		dl.Store(ctx, randomEntry("m3", "bob", now.Add(-time.Minute)))

		n, err := NewManager(dl, target).WithClock(clock).ReplayAll(ctx, Filter{SenderID: "alice"})
		if err != nil {
			t.Fatalf("ReplayAll failed: %v", err)
		}
		if n != 2 || target.Len() != 2 || dl.Len() != 1 {
			t.Errorf("replayed=%d scheduled=%d left=%d", n, target.Len(), dl.Len())
		}
	})

	t.Run("Purge removes old entries only", func(t *testing.T) {
		dl := NewMemoryStore()
		dl.Store(ctx, randomEntry("old", "alice", now.Add(-48*time.Hour)))
		dl.Store(ctx, randomEntry("new", "alice", now.Add(-time.Hour)))

		n, err := NewManager(dl, scheduled.NewMemoryStore()).WithClock(clock).Purge(ctx, 24*time.Hour)
		if err != nil {
			t.Fatalf("Purge failed: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 purged, got %d", n)
		}
		if _, err := dl.Get(ctx, "new"); err != nil {
			t.Errorf("recent entry should remain: %v", err)
		}
	})

	t.Run("NewEntry copies the message and error", func(t *testing.T) {
		msg := &scheduled.Message{ID: "m1", SenderID: "a", ReceiverID: "b", Content: "c", SendingTime: 10}
		e := NewEntry(msg, errors.New("boom"), 4, now)
		if e.Error != "boom" || e.Attempts != 4 || !e.CreatedAt.Equal(now) {
			t.Errorf("unexpected entry %+v", e)
		}
		if diff := cmp.Diff(msg, e.Message()); diff != "" {
			t.Errorf("message mismatch (-want +got):\n%s", diff)
		}
	})
}

func ids(entries []*Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}
