package conversation

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type firestoreConversation struct {
	User1           string `firestore:"user1"`
	User2           string `firestore:"user2"`
	LastMessage     string `firestore:"last_message"`
	LastMessageTime int64  `firestore:"last_message_time"`
}

type firestoreMessage struct {
	SenderID  string `firestore:"sender_id"`
	Content   string `firestore:"message"`
	Type      string `firestore:"message_type"`
	Timestamp int64  `firestore:"timestamp"`
}

// FirestoreStore keeps conversations in a collection and each message log in
// a "messages" subcollection of its conversation document.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore creates a Firestore-backed conversation store.
func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{
		client:     client,
		collection: "conversations",
	}
}

// WithCollection sets a custom collection name.
func (s *FirestoreStore) WithCollection(name string) *FirestoreStore {
	s.collection = name
	return s
}

func (s *FirestoreStore) col() *firestore.CollectionRef {
	return s.client.Collection(s.collection)
}

func (s *FirestoreStore) messagesCol(conversationID string) *firestore.CollectionRef {
	return s.col().Doc(conversationID).Collection("messages")
}

// Create stores a new conversation.
func (s *FirestoreStore) Create(ctx context.Context, c *Conversation) (string, error) {
	if err := validateParticipants(c); err != nil {
		return "", err
	}

	ref := s.col().NewDoc()
	if c.ID != "" {
		ref = s.col().Doc(c.ID)
	}

	_, err := ref.Create(ctx, firestoreConversation{
		User1:           c.User1,
		User2:           c.User2,
		LastMessage:     c.LastMessage,
		LastMessageTime: c.LastMessageTime,
	})
	if err != nil {
		return "", fmt.Errorf("firestore create conversation: %w", err)
	}
	c.ID = ref.ID
	return ref.ID, nil
}

// Get returns a conversation.
func (s *FirestoreStore) Get(ctx context.Context, id string) (*Conversation, error) {
	snap, err := s.col().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("firestore get conversation: %w", err)
	}
	return decodeConversation(snap)
}

// FindByUser1 returns conversations whose first participant is userID.
func (s *FirestoreStore) FindByUser1(ctx context.Context, userID string) ([]*Conversation, error) {
	return s.find(ctx, s.col().Where("user1", "==", userID))
}

// FindByUser2 returns conversations whose second participant is userID.
func (s *FirestoreStore) FindByUser2(ctx context.Context, userID string) ([]*Conversation, error) {
	return s.find(ctx, s.col().Where("user2", "==", userID))
}

func (s *FirestoreStore) find(ctx context.Context, q firestore.Query) ([]*Conversation, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var result []*Conversation
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore find conversations: %w", err)
		}
		c, err := decodeConversation(snap)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, nil
}

func decodeConversation(snap *firestore.DocumentSnapshot) (*Conversation, error) {
	var doc firestoreConversation
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore decode conversation: %w", err)
	}
	return &Conversation{
		ID:              snap.Ref.ID,
		User1:           doc.User1,
		User2:           doc.User2,
		LastMessage:     doc.LastMessage,
		LastMessageTime: doc.LastMessageTime,
	}, nil
}

// AppendMessage adds msg to the conversation's messages subcollection. The
// conversation is read in the same transaction and ErrNotFound is returned
// when it does not exist.
func (s *FirestoreStore) AppendMessage(ctx context.Context, msg *Message) (string, error) {
	ref := s.messagesCol(msg.ConversationID).NewDoc()
	if msg.ID != "" {
		ref = s.messagesCol(msg.ConversationID).Doc(msg.ID)
	}

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(s.col().Doc(msg.ConversationID)); err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrNotFound
			}
			return err
		}
		return tx.Create(ref, firestoreMessage{
			SenderID:  msg.SenderID,
			Content:   msg.Content,
			Type:      msg.Type,
			Timestamp: msg.Timestamp,
		})
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("firestore append message: %w", err)
	}
	msg.ID = ref.ID
	return ref.ID, nil
}

// UpdateSummary sets the last-message pair.
func (s *FirestoreStore) UpdateSummary(ctx context.Context, conversationID, lastMessage string, at int64) error {
	_, err := s.col().Doc(conversationID).Update(ctx, []firestore.Update{
		{Path: "last_message", Value: lastMessage},
		{Path: "last_message_time", Value: at},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		return fmt.Errorf("firestore update summary: %w", err)
	}
	return nil
}

var _ Store = (*FirestoreStore)(nil)
