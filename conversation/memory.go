package conversation

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	order         []string
	messages      map[string][]*Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
	}
}

// Create stores a copy of c. An id is generated when c.ID is empty.
func (s *MemoryStore) Create(ctx context.Context, c *Conversation) (string, error) {
	if err := validateParticipants(c); err != nil {
		return "", err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[c.ID]; !exists {
		s.order = append(s.order, c.ID)
	}
	cp := *c
	s.conversations[c.ID] = &cp
	return c.ID, nil
}

// Get returns a copy of the conversation.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// FindByUser1 returns conversations whose first participant is userID.
func (s *MemoryStore) FindByUser1(ctx context.Context, userID string) ([]*Conversation, error) {
	return s.find(func(c *Conversation) bool { return c.User1 == userID }), nil
}

// FindByUser2 returns conversations whose second participant is userID.
func (s *MemoryStore) FindByUser2(ctx context.Context, userID string) ([]*Conversation, error) {
	return s.find(func(c *Conversation) bool { return c.User2 == userID }), nil
}

func (s *MemoryStore) find(match func(*Conversation) bool) []*Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Conversation
	for _, id := range s.order {
		if c := s.conversations[id]; match(c) {
			cp := *c
			result = append(result, &cp)
		}
	}
	return result
}

// AppendMessage adds msg to an existing conversation.
func (s *MemoryStore) AppendMessage(ctx context.Context, msg *Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return "", ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	cp := *msg
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], &cp)
	return msg.ID, nil
}

// UpdateSummary sets the last-message pair.
func (s *MemoryStore) UpdateSummary(ctx context.Context, conversationID, lastMessage string, at int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	c.LastMessage = lastMessage
	c.LastMessageTime = at
	return nil
}

// Messages returns a copy of a conversation's message log in append order.
func (s *MemoryStore) Messages(conversationID string) []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.messages[conversationID]
	out := make([]*Message, len(log))
	for i, m := range log {
		cp := *m
		out[i] = &cp
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
