package conversation

import (
	"context"
	"fmt"
	"log/slog"
)

// Resolver finds the conversation between two users.
type Resolver struct {
	store  Store
	logger *slog.Logger
}

// NewResolver creates a resolver over store.
func NewResolver(store Store) *Resolver {
	return &Resolver{
		store:  store,
		logger: slog.Default().With("component", "conversation.resolver"),
	}
}

// WithLogger sets a custom logger.
func (r *Resolver) WithLogger(l *slog.Logger) *Resolver {
	r.logger = l
	return r
}

// Resolve returns the id of the conversation between sender and receiver.
//
// Conversations where sender is the first participant are searched first,
// then those where sender is the second. Within each result set the first
// conversation between the pair in either order wins. ErrNotFound is returned
// when neither search matches; store failures are returned wrapped.
func (r *Resolver) Resolve(ctx context.Context, sender, receiver string) (string, error) {
	searches := []struct {
		name string
		find func(context.Context, string) ([]*Conversation, error)
	}{
		{"user1", r.store.FindByUser1},
		{"user2", r.store.FindByUser2},
	}

	for _, s := range searches {
		convs, err := s.find(ctx, sender)
		if err != nil {
			return "", fmt.Errorf("find by %s: %w", s.name, err)
		}
		for _, c := range convs {
			if c.Between(sender, receiver) {
				return c.ID, nil
			}
		}
	}

	r.logger.Debug("no conversation between participants",
		"sender", sender,
		"receiver", receiver)
	return "", ErrNotFound
}
