package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rbaliyan/sendlater/notify"
	"syreclabs.com/go/faker"
)

func TestResolver(t *testing.T) {
	ctx := context.Background()

	t.Run("finds conversation with sender as user1", func(t *testing.T) {
		store := NewMemoryStore()
		id, _ := store.Create(ctx, &Conversation{User1: "alice", User2: "bob"})

		got, err := NewResolver(store).Resolve(ctx, "alice", "bob")
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if got != id {
			t.Errorf("expected %s, got %s", id, got)
		}
	})

	t.Run("finds conversation stored in reversed order", func(t *testing.T) {
		store := NewMemoryStore()
		id, _ := store.Create(ctx, &Conversation{User1: "bob", User2: "alice"})

		got, err := NewResolver(store).Resolve(ctx, "alice", "bob")
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if got != id {
			t.Errorf("expected %s, got %s", id, got)
		}
	})

	t.Run("ignores conversations with other receivers", func(t *testing.T) {
		store := NewMemoryStore()
		store.Create(ctx, &Conversation{User1: "alice", User2: "carol"})
		store.Create(ctx, &Conversation{User1: "dave", User2: "alice"})
		want, _ := store.Create(ctx, &Conversation{User1: "bob", User2: "alice"})

		got, err := NewResolver(store).Resolve(ctx, "alice", "bob")
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	})

	t.Run("first user1 match wins over user2 match", func(t *testing.T) {
		store := NewMemoryStore()
		reversed, _ := store.Create(ctx, &Conversation{User1: "bob", User2: "alice"})
		direct, _ := store.Create(ctx, &Conversation{User1: "alice", User2: "bob"})

		got, _ := NewResolver(store).Resolve(ctx, "alice", "bob")
		if got != direct {
			t.Errorf("expected user1 match %s, got %s (reversed was %s)", direct, got, reversed)
		}
	})

	t.Run("no conversation returns ErrNotFound", func(t *testing.T) {
		store := NewMemoryStore()
		store.Create(ctx, &Conversation{User1: "alice", User2: "carol"})

		_, err := NewResolver(store).Resolve(ctx, "alice", "bob")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("store failure propagates", func(t *testing.T) {
		boom := errors.New("store down")
		store := &failingStore{Store: NewMemoryStore(), findErr: boom}

		_, err := NewResolver(store).Resolve(ctx, "alice", "bob")
		if !errors.Is(err, boom) {
			t.Errorf("expected store error, got %v", err)
		}
		if errors.Is(err, ErrNotFound) {
			t.Error("store failure must not look like a missing conversation")
		}
	})
}

func TestSender(t *testing.T) {
	ctx := context.Background()

	t.Run("appends message and updates summary", func(t *testing.T) {
		store := NewMemoryStore()
		convID, _ := store.Create(ctx, &Conversation{User1: "alice", User2: "bob"})
		content := faker.Lorem().Sentence(4)

		id, err := NewSender(store).Send(ctx, Outgoing{
			ConversationID: convID,
			SenderID:       "alice",
			Content:        content,
			Timestamp:      1234,
		})
		if err != nil {
			t.Fatalf("Send failed: %v", err)
		}

		want := []*Message{{
			ID:             id,
			ConversationID: convID,
			SenderID:       "alice",
			Content:        content,
			Type:           TypeText,
			Timestamp:      1234,
		}}
		if diff := cmp.Diff(want, store.Messages(convID)); diff != "" {
			t.Errorf("message log mismatch (-want +got):\n%s", diff)
		}

		conv, _ := store.Get(ctx, convID)
		if conv.LastMessage != content || conv.LastMessageTime != 1234 {
			t.Errorf("summary not updated: %+v", conv)
		}
	})

	t.Run("append failure is a SendError", func(t *testing.T) {
		store := NewMemoryStore()

		_, err := NewSender(store).Send(ctx, Outgoing{
			ConversationID: "missing",
			SenderID:       "alice",
			Content:        "hi",
		})
		var sendErr *SendError
		if !errors.As(err, &sendErr) {
			t.Fatalf("expected SendError, got %v", err)
		}
		if sendErr.ConversationID != "missing" || !errors.Is(err, ErrNotFound) {
			t.Errorf("unexpected error %v", err)
		}
	})

	t.Run("summary failure does not fail the send", func(t *testing.T) {
		mem := NewMemoryStore()
		convID, _ := mem.Create(ctx, &Conversation{User1: "alice", User2: "bob"})
		store := &failingStore{Store: mem, summaryErr: errors.New("summary down")}

		if _, err := NewSender(store).Send(ctx, Outgoing{ConversationID: convID, SenderID: "alice", Content: "hi"}); err != nil {
			t.Fatalf("expected success, got %v", err)
		}
		if len(mem.Messages(convID)) != 1 {
			t.Error("expected message appended")
		}
	})

	t.Run("notifies after send", func(t *testing.T) {
		store := NewMemoryStore()
		convID, _ := store.Create(ctx, &Conversation{User1: "alice", User2: "bob"})
		n := &captureNotifier{}

		id, err := NewSender(store).WithNotifier(n).Send(ctx, Outgoing{
			ConversationID: convID,
			SenderID:       "alice",
			Content:        "hi",
			Scheduled:      true,
		})
		if err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		if len(n.events) != 1 {
			t.Fatalf("expected 1 event, got %d", len(n.events))
		}
		if e := n.events[0]; e.MessageID != id || !e.Scheduled || e.Type != TypeText {
			t.Errorf("unexpected event %+v", e)
		}
	})

	t.Run("notifier failure does not fail the send", func(t *testing.T) {
		store := NewMemoryStore()
		convID, _ := store.Create(ctx, &Conversation{User1: "alice", User2: "bob"})

		_, err := NewSender(store).
			WithNotifier(&captureNotifier{err: errors.New("broker down")}).
			Send(ctx, Outgoing{ConversationID: convID, SenderID: "alice", Content: "hi"})
		if err != nil {
			t.Errorf("expected success, got %v", err)
		}
	})
}

func TestMemoryStoreCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects invalid participants", func(t *testing.T) {
		store := NewMemoryStore()
		for _, c := range []*Conversation{
			{User1: "", User2: "bob"},
			{User1: "alice", User2: ""},
			{User1: "alice", User2: "alice"},
		} {
			if _, err := store.Create(ctx, c); !errors.Is(err, ErrInvalidParticipants) {
				t.Errorf("expected ErrInvalidParticipants for %+v, got %v", c, err)
			}
		}
	})

	t.Run("Other returns the counterpart", func(t *testing.T) {
		c := &Conversation{User1: "alice", User2: "bob"}
		if c.Other("alice") != "bob" || c.Other("bob") != "alice" || c.Other("carol") != "" {
			t.Error("unexpected Other result")
		}
	})
}

type failingStore struct {
	Store
	findErr    error
	summaryErr error
}

func (f *failingStore) FindByUser1(ctx context.Context, userID string) ([]*Conversation, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.Store.FindByUser1(ctx, userID)
}

func (f *failingStore) UpdateSummary(ctx context.Context, id, last string, at int64) error {
	if f.summaryErr != nil {
		return f.summaryErr
	}
	return f.Store.UpdateSummary(ctx, id, last, at)
}

type captureNotifier struct {
	events []notify.Event
	err    error
}

func (c *captureNotifier) Notify(_ context.Context, e notify.Event) error {
	c.events = append(c.events, e)
	return c.err
}

func (c *captureNotifier) Close() error { return nil }
