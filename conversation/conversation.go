// Package conversation provides the chat-side collaborators of the deferred
// delivery pipeline: finding the conversation between two users and appending
// a message to it.
//
// # Overview
//
// The package provides:
//   - Conversation and Message: the stored chat records
//   - Store: persistence contract for conversations and their message logs
//   - Resolver: maps a (sender, receiver) pair to an existing conversation id
//   - Sender: appends a message and updates the conversation summary
//
// Participant order is not canonical. A conversation between alice and bob may
// be stored as user1=alice, user2=bob or the other way around, so Resolver
// searches both positions.
//
// # Basic Usage
//
//	store := conversation.NewMongoStore(db)
//	resolver := conversation.NewResolver(store)
//	sender := conversation.NewSender(store)
//
//	convID, err := resolver.Resolve(ctx, "alice", "bob")
//	if errors.Is(err, conversation.ErrNotFound) {
//	    // no conversation yet, try again later
//	}
//
//	_, err = sender.Send(ctx, conversation.Outgoing{
//	    ConversationID: convID,
//	    SenderID:       "alice",
//	    Content:        "hi",
//	    Type:           conversation.TypeText,
//	    Timestamp:      time.Now().UnixMilli(),
//	})
package conversation

import (
	"context"
	"errors"
)

// TypeText is the message type used for plain text messages.
const TypeText = "text"

var (
	// ErrNotFound is returned when no conversation matches.
	ErrNotFound = errors.New("conversation not found")

	// ErrInvalidParticipants is returned when a participant id is empty or
	// both ids are equal.
	ErrInvalidParticipants = errors.New("invalid conversation participants")
)

// Conversation is a two-party chat.
type Conversation struct {
	ID              string
	User1           string
	User2           string
	LastMessage     string
	LastMessageTime int64 // epoch ms
}

// Other returns the participant that is not userID, or "" if userID is not a
// participant.
func (c *Conversation) Other(userID string) string {
	switch userID {
	case c.User1:
		return c.User2
	case c.User2:
		return c.User1
	}
	return ""
}

// Between reports whether the conversation is between a and b, in either
// stored order.
func (c *Conversation) Between(a, b string) bool {
	return (c.User1 == a && c.User2 == b) || (c.User1 == b && c.User2 == a)
}

// Message is one entry of a conversation's message log.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	Type           string
	Timestamp      int64 // epoch ms
}

// Store persists conversations and their message logs.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Create stores a new conversation and returns its id.
	Create(ctx context.Context, c *Conversation) (string, error)

	// Get returns a conversation or ErrNotFound.
	Get(ctx context.Context, id string) (*Conversation, error)

	// FindByUser1 returns conversations whose first participant is userID.
	FindByUser1(ctx context.Context, userID string) ([]*Conversation, error)

	// FindByUser2 returns conversations whose second participant is userID.
	FindByUser2(ctx context.Context, userID string) ([]*Conversation, error)

	// AppendMessage adds msg to the log of msg.ConversationID and returns the
	// new message id. It returns ErrNotFound when the conversation does not
	// exist.
	AppendMessage(ctx context.Context, msg *Message) (string, error)

	// UpdateSummary sets the last-message pair. The latest write wins.
	UpdateSummary(ctx context.Context, conversationID, lastMessage string, at int64) error
}

func validateParticipants(c *Conversation) error {
	if c.User1 == "" || c.User2 == "" || c.User1 == c.User2 {
		return ErrInvalidParticipants
	}
	return nil
}
