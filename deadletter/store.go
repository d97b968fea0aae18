// Package deadletter parks scheduled messages that keep failing delivery.
//
// By default the delivery worker retries a failing message on every cycle,
// forever. When a dead-letter threshold is configured, a message that fails
// that many consecutive attempts is moved here and removed from the scheduled
// store, so that a permanently unresolvable pair stops costing a lookup on
// every cycle.
//
// # Overview
//
// The package provides:
//   - Entry: a parked message with its last error
//   - Store interface for dead-letter persistence
//   - MemoryStore and RedisStore implementations
//   - Manager for listing, replaying and purging entries
//
// # Basic Usage
//
//	dl := deadletter.NewRedisStore(rdb)
//	worker := delivery.NewWorker(store, resolver, sender,
//	    delivery.WithDeadLetter(dl, 50),
//	)
//
//	// Later, once the conversation exists
//	manager := deadletter.NewManager(dl, store)
//	err := manager.Replay(ctx, id)
package deadletter

import (
	"context"
	"errors"
	"time"

	"github.com/rbaliyan/sendlater/scheduled"
)

// ErrNotFound is returned when no entry has the given id.
var ErrNotFound = errors.New("dead letter not found")

// Entry is a scheduled message that exhausted its delivery attempts.
type Entry struct {
	ID             string // id of the original scheduled message
	SenderID       string
	ReceiverID     string
	Content        string
	SendingTime    int64 // original sending time, epoch ms
	ConversationID string
	Error          string    // last delivery error
	Attempts       int       // consecutive failed attempts
	CreatedAt      time.Time // when the entry was parked
}

// NewEntry builds an entry from a scheduled message and its last error.
func NewEntry(msg *scheduled.Message, err error, attempts int, at time.Time) *Entry {
	e := &Entry{
		ID:             msg.ID,
		SenderID:       msg.SenderID,
		ReceiverID:     msg.ReceiverID,
		Content:        msg.Content,
		SendingTime:    msg.SendingTime,
		ConversationID: msg.ConversationID,
		Attempts:       attempts,
		CreatedAt:      at,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Message returns the scheduled message the entry was built from.
func (e *Entry) Message() *scheduled.Message {
	return &scheduled.Message{
		ID:             e.ID,
		SenderID:       e.SenderID,
		ReceiverID:     e.ReceiverID,
		Content:        e.Content,
		SendingTime:    e.SendingTime,
		ConversationID: e.ConversationID,
	}
}

// Filter selects entries. All fields are optional.
type Filter struct {
	SenderID string    // only entries owned by this sender
	Before   time.Time // only entries parked before this instant
	Limit    int       // maximum results (0 = no limit)
}

func (f Filter) match(e *Entry) bool {
	if f.SenderID != "" && e.SenderID != f.SenderID {
		return false
	}
	if !f.Before.IsZero() && !e.CreatedAt.Before(f.Before) {
		return false
	}
	return true
}

// Store persists dead-letter entries.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Store adds or replaces the entry keyed by e.ID.
	Store(ctx context.Context, e *Entry) error

	// Get returns the entry or ErrNotFound.
	Get(ctx context.Context, id string) (*Entry, error)

	// List returns entries matching the filter, oldest first.
	List(ctx context.Context, filter Filter) ([]*Entry, error)

	// Delete removes the entry. Absent ids are ignored.
	Delete(ctx context.Context, id string) error
}
