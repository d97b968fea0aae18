package scheduled

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
)

// Wire field names shared by every backend.
const (
	FieldSenderID       = "sender_id"
	FieldReceiverID     = "receiver_id"
	FieldContent        = "message_content"
	FieldSendingTime    = "sending_time"
	FieldConversationID = "conversation_id"
)

// Fields is the raw, schemaless form of a stored record.
type Fields map[string]any

// ToFields returns the stored representation of m. The id is the record key
// and is not part of the fields.
func (m *Message) ToFields() Fields {
	f := Fields{
		FieldSenderID:    m.SenderID,
		FieldReceiverID:  m.ReceiverID,
		FieldContent:     m.Content,
		FieldSendingTime: m.SendingTime,
	}
	if m.ConversationID != "" {
		f[FieldConversationID] = m.ConversationID
	}
	return f
}

// MalformedError describes a record DecodeFields rejected. SenderID is the
// raw sender_id when it is a string, so ownership can still be checked.
type MalformedError struct {
	ID       string
	SenderID string
	Reason   string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrMalformed, e.ID, e.Reason)
}

// Is reports ErrMalformed as a match.
func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformed
}

// DecodeFields builds a Message from a raw record.
//
// The record is rejected with a *MalformedError when sender_id, receiver_id or
// message_content is missing or empty, or when sending_time is absent or not
// an integer. sending_time may be any integer type, an integral float, or a
// decimal string.
func DecodeFields(id string, f Fields) (*Message, error) {
	msg := &Message{ID: id}
	malformed := func(reason string) error {
		sender, _ := f[FieldSenderID].(string)
		return &MalformedError{ID: id, SenderID: sender, Reason: reason}
	}

	var ok bool
	if msg.SenderID, ok = nonEmptyString(f[FieldSenderID]); !ok {
		return nil, malformed("missing " + FieldSenderID)
	}
	if msg.ReceiverID, ok = nonEmptyString(f[FieldReceiverID]); !ok {
		return nil, malformed("missing " + FieldReceiverID)
	}
	if msg.Content, ok = nonEmptyString(f[FieldContent]); !ok {
		return nil, malformed("missing " + FieldContent)
	}

	ts, err := ParseSendingTime(f[FieldSendingTime])
	if err != nil {
		return nil, malformed(err.Error())
	}
	msg.SendingTime = ts

	msg.ConversationID, _ = nonEmptyString(f[FieldConversationID])
	return msg, nil
}

// ParseSendingTime converts a stored sending_time value to epoch milliseconds.
func ParseSendingTime(v any) (int64, error) {
	switch t := v.(type) {
	case nil:
		return 0, fmt.Errorf("missing %s", FieldSendingTime)
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) {
			return 0, fmt.Errorf("%s is not an integer: %v", FieldSendingTime, t)
		}
		return int64(t), nil
	case json.Number:
		return t.Int64()
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("unparsable %s %q", FieldSendingTime, t)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported %s type %T", FieldSendingTime, v)
	}
}

func nonEmptyString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// decodeAll decodes records in order, dropping malformed ones.
// The number skipped is logged.
func decodeAll(logger *slog.Logger, query string, ids []string, records []Fields) []*Message {
	messages := make([]*Message, 0, len(records))
	skipped := 0
	for i, f := range records {
		msg, err := DecodeFields(ids[i], f)
		if err != nil {
			skipped++
			logger.Debug("skipping scheduled message", "id", ids[i], "error", err)
			continue
		}
		messages = append(messages, msg)
	}
	if skipped > 0 {
		logger.Warn("skipped malformed scheduled messages",
			"query", query,
			"skipped", skipped,
			"valid", len(messages))
	}
	return messages
}
