package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/nats-io/nats.go"
)

// ErrConnRequired is returned by NewNATS when no connection is given.
var ErrConnRequired = errors.New("nats connection is required")

// MsgPublisher is the subset of *nats.Conn used by the NATS notifier.
type MsgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSOption configures a NATS notifier.
type NATSOption func(*NATS)

// WithSubjectPrefix sets the subject prefix. The conversation id is appended.
// Default: "chat.conversation."
func WithSubjectPrefix(prefix string) NATSOption {
	return func(n *NATS) {
		n.prefix = prefix
	}
}

// WithNATSCodec sets the event codec. Default: JSON.
func WithNATSCodec(c Codec) NATSOption {
	return func(n *NATS) {
		if c != nil {
			n.codec = c
		}
	}
}

// NATS publishes events on core NATS, fire-and-forget.
//
// Subscribers interested in one conversation listen on
// "<prefix><conversation id>"; a wildcard "<prefix>>" sees everything.
type NATS struct {
	closed atomic.Bool
	conn   MsgPublisher
	prefix string
	codec  Codec
	logger *slog.Logger
}

// NewNATS creates a notifier on an established connection. The connection is
// owned by the caller and is not closed by Close.
func NewNATS(conn MsgPublisher, opts ...NATSOption) (*NATS, error) {
	if conn == nil {
		return nil, ErrConnRequired
	}

	n := &NATS{
		conn:   conn,
		prefix: "chat.conversation.",
		codec:  DefaultCodec(),
		logger: slog.Default().With("component", "notify.nats"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// WithLogger sets a custom logger.
func (n *NATS) WithLogger(l *slog.Logger) *NATS {
	n.logger = l
	return n
}

// Subject returns the subject an event is published on.
func (n *NATS) Subject(e Event) string {
	return n.prefix + e.ConversationID
}

// Notify publishes the event.
func (n *NATS) Notify(ctx context.Context, e Event) error {
	if n.closed.Load() {
		return ErrClosed
	}

	data, err := n.codec.Encode(e)
	if err != nil {
		return err
	}

	msg := nats.NewMsg(n.Subject(e))
	msg.Data = data
	msg.Header.Set("Content-Type", n.codec.ContentType())
	msg.Header.Set("Sender-Id", e.SenderID)

	if err := n.conn.PublishMsg(msg); err != nil {
		return err
	}

	n.logger.Debug("published notification", "subject", msg.Subject, "message_id", e.MessageID)
	return nil
}

// Close stops further publishing.
func (n *NATS) Close() error {
	n.closed.Store(true)
	return nil
}

// Compile-time checks
var (
	_ Notifier     = (*NATS)(nil)
	_ MsgPublisher = (*nats.Conn)(nil)
)
