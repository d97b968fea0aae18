// Package scheduled stores chat messages that a user composed to be sent later.
//
// A scheduled message stays in the store from the moment it is composed until
// it is either delivered by the delivery worker or cancelled by its sender.
// The store is the durable queue: there is no local copy, so every backend is
// expected to survive restarts of the process that schedules or delivers.
//
// # Overview
//
// The package provides:
//   - Message: a pending deferred send
//   - Store: the persistence and query contract used by the delivery worker
//   - MemoryStore: single-process store for development and tests
//   - RedisStore: hash + sorted set layout on Redis
//   - MongoStore: one document per message in a MongoDB collection
//   - PostgresStore: one row per message in a PostgreSQL table
//   - FirestoreStore: one document per message in a Firestore collection
//
// # Basic Usage
//
//	store := scheduled.NewRedisStore(rdb)
//
//	id, err := store.Add(ctx, &scheduled.Message{
//	    SenderID:    "alice",
//	    ReceiverID:  "bob",
//	    Content:     "happy birthday!",
//	    SendingTime: time.Now().Add(time.Hour).UnixMilli(),
//	})
//
//	// Later, the delivery worker asks for everything that is due
//	due, err := store.Pending(ctx, time.Now())
//
// # Sending time
//
// SendingTime is an epoch timestamp in milliseconds and is stored as a native
// integer so range queries compare numerically. Records written by older
// clients with a decimal string are still readable, but only numerically
// stored values take part in Pending range queries.
//
// # Malformed records
//
// Records missing a required field or carrying an unparsable sending time are
// skipped by ListForSender and Pending. The query still succeeds with the valid
// subset and the number of skipped records is logged.
package scheduled

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by Get when no message has the given id.
	ErrNotFound = errors.New("scheduled message not found")

	// ErrIDGeneration is returned by Add when the id allocator fails.
	ErrIDGeneration = errors.New("scheduled message id generation failed")

	// ErrInvalidMessage is returned by Add when a required field is missing.
	ErrInvalidMessage = errors.New("invalid scheduled message")

	// ErrMalformed is returned by DecodeFields for records that cannot be
	// turned into a Message.
	ErrMalformed = errors.New("malformed scheduled message record")
)

// StoreError reports a failed read, write or delete against the backend.
//
// Callers can match it with errors.As; Unwrap exposes the driver error.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return "scheduled store " + e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// Message is a pending deferred send.
//
// All fields except ConversationID are immutable once the message is stored.
// ConversationID may be empty at creation and is resolved at delivery time.
type Message struct {
	// ID is unique across the store. Assigned by Add when empty.
	ID string

	// SenderID is the user that composed the message and owns the entry.
	SenderID string

	// ReceiverID is the other participant of the conversation.
	ReceiverID string

	// Content is the message body.
	Content string

	// SendingTime is the earliest delivery instant in epoch milliseconds.
	SendingTime int64

	// ConversationID is the target conversation, if known.
	ConversationID string
}

// SendAt returns SendingTime as a time.Time.
func (m *Message) SendAt() time.Time {
	return time.UnixMilli(m.SendingTime)
}

// Due reports whether the message may be delivered at now.
// The comparison is inclusive: a message is due at its exact sending time.
func (m *Message) Due(now time.Time) bool {
	return m.SendingTime <= now.UnixMilli()
}

// Validate checks the required fields.
func (m *Message) Validate() error {
	switch {
	case m == nil:
		return fmt.Errorf("%w: nil message", ErrInvalidMessage)
	case m.SenderID == "":
		return fmt.Errorf("%w: sender_id is required", ErrInvalidMessage)
	case m.ReceiverID == "":
		return fmt.Errorf("%w: receiver_id is required", ErrInvalidMessage)
	case m.Content == "":
		return fmt.Errorf("%w: message_content is required", ErrInvalidMessage)
	case m.SendingTime <= 0:
		return fmt.Errorf("%w: sending_time is required", ErrInvalidMessage)
	}
	return nil
}

// Store persists scheduled messages and answers the queries the delivery
// pipeline depends on.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Add writes the message and returns its final id. An id is generated
	// when msg.ID is empty; the generated id is also set on msg.
	Add(ctx context.Context, msg *Message) (string, error)

	// Get returns the message with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (*Message, error)

	// ListForSender returns the valid messages owned by senderID.
	ListForSender(ctx context.Context, senderID string) ([]*Message, error)

	// Pending returns the valid messages whose sending time is at or
	// before now, filtered by the backend.
	Pending(ctx context.Context, now time.Time) ([]*Message, error)

	// Delete removes the message. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error
}

// ConversationBinder is implemented by stores that can record a conversation
// id resolved after the message was created.
type ConversationBinder interface {
	BindConversation(ctx context.Context, id, conversationID string) error
}

// IDGenerator allocates message ids.
type IDGenerator func() (string, error)

// NewUUID is the default IDGenerator.
func NewUUID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// assignID validates msg and fills in its id when missing.
func assignID(msg *Message, gen IDGenerator) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.ID != "" {
		return nil
	}
	id, err := gen()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIDGeneration, err)
	}
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrIDGeneration)
	}
	msg.ID = id
	return nil
}
