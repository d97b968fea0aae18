// Package notify fans delivered chat messages out to realtime subscribers.
//
// The conversation Sender calls a Notifier after a message has been appended
// to a conversation log. Notification is best effort: a failure is logged by
// the caller and never turns a successful send into a failed one.
//
// Implementations:
//   - NATS: publishes to a per-conversation subject
//   - Kafka: produces to a single topic keyed by conversation id
//   - Multi: forwards to several notifiers
//   - Nop: discards events
package notify

import (
	"context"
	"errors"
)

// ErrClosed is returned by notifiers after Close.
var ErrClosed = errors.New("notifier closed")

// Event describes a message appended to a conversation.
type Event struct {
	ConversationID string `json:"conversation_id" msgpack:"conversation_id"`
	MessageID      string `json:"message_id" msgpack:"message_id"`
	SenderID       string `json:"sender_id" msgpack:"sender_id"`
	Content        string `json:"message" msgpack:"message"`
	Type           string `json:"message_type" msgpack:"message_type"`
	Timestamp      int64  `json:"timestamp" msgpack:"timestamp"`
	Scheduled      bool   `json:"scheduled,omitempty" msgpack:"scheduled,omitempty"`
}

// Notifier publishes events. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }
func (Nop) Close() error                        { return nil }

// Multi forwards each event to all notifiers and joins their errors.
type Multi []Notifier

// Notify calls every notifier, even after a failure.
func (m Multi) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every notifier.
func (m Multi) Close() error {
	var errs []error
	for _, n := range m {
		if err := n.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Compile-time checks
var (
	_ Notifier = Nop{}
	_ Notifier = Multi(nil)
)
