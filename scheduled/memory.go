package scheduled

import (
	"context"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests.
//
// Records are kept in their raw Fields form so that imported data with
// missing or malformed fields behaves the way it would in a schemaless
// backend. Data is lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Fields
	order   []string // insertion order, mirrors key order of remote stores
	idGen   IDGenerator
	logger  *slog.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Fields),
		idGen:   NewUUID,
		logger:  slog.Default().With("component", "scheduled.memory"),
	}
}

// WithIDGenerator sets the id allocator used by Add.
func (s *MemoryStore) WithIDGenerator(gen IDGenerator) *MemoryStore {
	s.idGen = gen
	return s
}

// WithLogger sets a custom logger.
func (s *MemoryStore) WithLogger(l *slog.Logger) *MemoryStore {
	s.logger = l
	return s
}

// Add stores a copy of msg.
func (s *MemoryStore) Add(ctx context.Context, msg *Message) (string, error) {
	if err := assignID(msg, s.idGen); err != nil {
		return "", err
	}
	s.Import(msg.ID, msg.ToFields())

	s.logger.Debug("scheduled message",
		"id", msg.ID,
		"sender", msg.SenderID,
		"sending_time", msg.SendingTime)
	return msg.ID, nil
}

// Import writes a raw record under id without validation, replacing any
// existing record. It is used to load data exported from another backend.
func (s *MemoryStore) Import(id string, f Fields) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[id]; !exists {
		s.order = append(s.order, id)
	}
	s.records[id] = maps.Clone(f)
}

// Get returns the message with the given id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Message, error) {
	s.mu.RLock()
	f, ok := s.records[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return DecodeFields(id, f)
}

// ListForSender returns the valid messages owned by senderID.
func (s *MemoryStore) ListForSender(ctx context.Context, senderID string) ([]*Message, error) {
	ids, records := s.scan(func(f Fields) bool {
		v, _ := f[FieldSenderID].(string)
		return v == senderID
	})
	return decodeAll(s.logger, "sender", ids, records), nil
}

// Pending returns valid messages due at now, ordered by sending time.
func (s *MemoryStore) Pending(ctx context.Context, now time.Time) ([]*Message, error) {
	cutoff := now.UnixMilli()
	ids, records := s.scan(func(f Fields) bool {
		ts, err := ParseSendingTime(f[FieldSendingTime])
		if err != nil {
			// let decodeAll count it as malformed
			return true
		}
		return ts <= cutoff
	})

	messages := decodeAll(s.logger, "pending", ids, records)
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].SendingTime < messages[j].SendingTime
	})
	return messages, nil
}

// Delete removes the message. Absent ids are ignored.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return nil
	}
	delete(s.records, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// BindConversation records a resolved conversation id.
func (s *MemoryStore) BindConversation(ctx context.Context, id, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	f[FieldConversationID] = conversationID
	return nil
}

// Len returns the number of stored records, including malformed ones.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryStore) scan(match func(Fields) bool) ([]string, []Fields) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	var records []Fields
	for _, id := range s.order {
		f := s.records[id]
		if match(f) {
			ids = append(ids, id)
			records = append(records, maps.Clone(f))
		}
	}
	return ids, records
}

// Compile-time checks
var (
	_ Store              = (*MemoryStore)(nil)
	_ ConversationBinder = (*MemoryStore)(nil)
)
