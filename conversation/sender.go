package conversation

import (
	"context"
	"log/slog"

	"github.com/rbaliyan/sendlater/notify"
)

// SendError reports a failed append to the message log.
type SendError struct {
	ConversationID string
	Err            error
}

func (e *SendError) Error() string {
	return "send to conversation " + e.ConversationID + ": " + e.Err.Error()
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Outgoing is a message about to be sent.
type Outgoing struct {
	ConversationID string
	SenderID       string
	Content        string
	Type           string
	Timestamp      int64 // epoch ms

	// Scheduled marks messages released by the delivery worker.
	Scheduled bool
}

// Sender appends messages to conversations. The same Sender serves scheduled
// and immediate messages.
type Sender struct {
	store    Store
	notifier notify.Notifier
	logger   *slog.Logger
}

// NewSender creates a sender over store.
func NewSender(store Store) *Sender {
	return &Sender{
		store:    store,
		notifier: notify.Nop{},
		logger:   slog.Default().With("component", "conversation.sender"),
	}
}

// WithNotifier sets the realtime notifier called after each send.
func (s *Sender) WithNotifier(n notify.Notifier) *Sender {
	if n == nil {
		n = notify.Nop{}
	}
	s.notifier = n
	return s
}

// WithLogger sets a custom logger.
func (s *Sender) WithLogger(l *slog.Logger) *Sender {
	s.logger = l
	return s
}

// Send appends the message to the conversation log and returns its id.
//
// Only the append decides success. The summary update and the notification
// that follow are best effort: their failures are logged and the message still
// counts as sent, so it must not be sent again.
func (s *Sender) Send(ctx context.Context, out Outgoing) (string, error) {
	if out.Type == "" {
		out.Type = TypeText
	}

	id, err := s.store.AppendMessage(ctx, &Message{
		ConversationID: out.ConversationID,
		SenderID:       out.SenderID,
		Content:        out.Content,
		Type:           out.Type,
		Timestamp:      out.Timestamp,
	})
	if err != nil {
		return "", &SendError{ConversationID: out.ConversationID, Err: err}
	}

	if err := s.store.UpdateSummary(ctx, out.ConversationID, out.Content, out.Timestamp); err != nil {
		s.logger.Warn("failed to update conversation summary",
			"conversation", out.ConversationID,
			"message", id,
			"error", err)
	}

	if err := s.notifier.Notify(ctx, notify.Event{
		ConversationID: out.ConversationID,
		MessageID:      id,
		SenderID:       out.SenderID,
		Content:        out.Content,
		Type:           out.Type,
		Timestamp:      out.Timestamp,
		Scheduled:      out.Scheduled,
	}); err != nil {
		s.logger.Warn("failed to notify subscribers",
			"conversation", out.ConversationID,
			"message", id,
			"error", err)
	}

	return id, nil
}
