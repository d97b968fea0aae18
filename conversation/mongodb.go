package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

/*
MongoDB Schema:

Collection: conversations
{
    "_id": string,
    "user1": string,
    "user2": string,
    "last_message": string,
    "last_message_time": int64 (epoch ms)
}

Collection: conversation_messages
{
    "_id": string,
    "conversation_id": string,
    "sender_id": string,
    "message": string,
    "message_type": string,
    "timestamp": int64 (epoch ms)
}

Indexes:
db.conversations.createIndex({ "user1": 1 })
db.conversations.createIndex({ "user2": 1 })
db.conversation_messages.createIndex({ "conversation_id": 1, "timestamp": 1 })
*/

type mongoConversation struct {
	ID              string `bson:"_id"`
	User1           string `bson:"user1"`
	User2           string `bson:"user2"`
	LastMessage     string `bson:"last_message,omitempty"`
	LastMessageTime int64  `bson:"last_message_time,omitempty"`
}

func (m *mongoConversation) toConversation() *Conversation {
	return &Conversation{
		ID:              m.ID,
		User1:           m.User1,
		User2:           m.User2,
		LastMessage:     m.LastMessage,
		LastMessageTime: m.LastMessageTime,
	}
}

type mongoMessage struct {
	ID             string `bson:"_id"`
	ConversationID string `bson:"conversation_id"`
	SenderID       string `bson:"sender_id"`
	Content        string `bson:"message"`
	Type           string `bson:"message_type"`
	Timestamp      int64  `bson:"timestamp"`
}

// MongoStore is a MongoDB-based conversation store.
type MongoStore struct {
	conversations *mongo.Collection
	messages      *mongo.Collection
}

// NewMongoStore creates a new MongoDB conversation store.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		conversations: db.Collection("conversations"),
		messages:      db.Collection("conversation_messages"),
	}
}

// WithCollections sets custom collection names.
func (s *MongoStore) WithCollections(conversations, messages string) *MongoStore {
	db := s.conversations.Database()
	s.conversations = db.Collection(conversations)
	s.messages = db.Collection(messages)
	return s
}

// EnsureIndexes creates the participant and message log indexes.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.conversations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user1", Value: 1}}},
		{Keys: bson.D{{Key: "user2", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("conversation indexes: %w", err)
	}
	_, err = s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "timestamp", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("message indexes: %w", err)
	}
	return nil
}

// Create stores a new conversation.
func (s *MongoStore) Create(ctx context.Context, c *Conversation) (string, error) {
	if err := validateParticipants(c); err != nil {
		return "", err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	_, err := s.conversations.InsertOne(ctx, &mongoConversation{
		ID:              c.ID,
		User1:           c.User1,
		User2:           c.User2,
		LastMessage:     c.LastMessage,
		LastMessageTime: c.LastMessageTime,
	})
	if err != nil {
		return "", fmt.Errorf("insert: %w", err)
	}
	return c.ID, nil
}

// Get returns a conversation.
func (s *MongoStore) Get(ctx context.Context, id string) (*Conversation, error) {
	var doc mongoConversation
	if err := s.conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find: %w", err)
	}
	return doc.toConversation(), nil
}

// FindByUser1 returns conversations whose first participant is userID.
func (s *MongoStore) FindByUser1(ctx context.Context, userID string) ([]*Conversation, error) {
	return s.find(ctx, bson.M{"user1": userID})
}

// FindByUser2 returns conversations whose second participant is userID.
func (s *MongoStore) FindByUser2(ctx context.Context, userID string) ([]*Conversation, error) {
	return s.find(ctx, bson.M{"user2": userID})
}

func (s *MongoStore) find(ctx context.Context, filter bson.M) ([]*Conversation, error) {
	cursor, err := s.conversations.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	defer cursor.Close(ctx)

	var result []*Conversation
	for cursor.Next(ctx) {
		var doc mongoConversation
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		result = append(result, doc.toConversation())
	}
	return result, cursor.Err()
}

// AppendMessage inserts msg into the message log. It returns ErrNotFound
// when the conversation does not exist.
func (s *MongoStore) AppendMessage(ctx context.Context, msg *Message) (string, error) {
	n, err := s.conversations.CountDocuments(ctx,
		bson.M{"_id": msg.ConversationID},
		options.Count().SetLimit(1))
	if err != nil {
		return "", fmt.Errorf("count: %w", err)
	}
	if n == 0 {
		return "", ErrNotFound
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	_, err = s.messages.InsertOne(ctx, &mongoMessage{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		Type:           msg.Type,
		Timestamp:      msg.Timestamp,
	})
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	return msg.ID, nil
}

// UpdateSummary sets the last-message pair.
func (s *MongoStore) UpdateSummary(ctx context.Context, conversationID, lastMessage string, at int64) error {
	res, err := s.conversations.UpdateOne(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$set": bson.M{"last_message": lastMessage, "last_message_time": at}},
	)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Store = (*MongoStore)(nil)
