package scheduled

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

/*
MongoDB Schema:

Collection: scheduled_sends

Document structure:
{
    "_id": string (message ID),
    "sender_id": string,
    "receiver_id": string,
    "message_content": string,
    "sending_time": int64 (epoch ms),
    "conversation_id": string (optional)
}

Indexes:
db.scheduled_sends.createIndex({ "sending_time": 1 })
db.scheduled_sends.createIndex({ "sender_id": 1 })
*/

// MongoStore is a MongoDB-based scheduled message store.
//
// Documents are decoded as bson.M so that records written by other clients
// with missing fields or a string sending_time are skipped, not fatal.
type MongoStore struct {
	collection *mongo.Collection
	idGen      IDGenerator
	logger     *slog.Logger
}

// NewMongoStore creates a new MongoDB scheduled message store.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		collection: db.Collection("scheduled_sends"),
		idGen:      NewUUID,
		logger:     slog.Default().With("component", "scheduled.mongodb"),
	}
}

// WithCollection sets a custom collection name.
func (s *MongoStore) WithCollection(name string) *MongoStore {
	s.collection = s.collection.Database().Collection(name)
	return s
}

// WithIDGenerator sets the id allocator used by Add.
func (s *MongoStore) WithIDGenerator(gen IDGenerator) *MongoStore {
	s.idGen = gen
	return s
}

// WithLogger sets a custom logger.
func (s *MongoStore) WithLogger(l *slog.Logger) *MongoStore {
	s.logger = l
	return s
}

// Collection returns the underlying MongoDB collection.
func (s *MongoStore) Collection() *mongo.Collection {
	return s.collection
}

// Indexes returns the indexes used by Pending and ListForSender.
func (s *MongoStore) Indexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: FieldSendingTime, Value: 1}}},
		{Keys: bson.D{{Key: FieldSenderID, Value: 1}}},
	}
}

// EnsureIndexes creates the required indexes.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, s.Indexes())
	return err
}

// Add stores the message.
func (s *MongoStore) Add(ctx context.Context, msg *Message) (string, error) {
	if err := assignID(msg, s.idGen); err != nil {
		return "", err
	}

	doc := bson.M{"_id": msg.ID}
	for k, v := range msg.ToFields() {
		doc[k] = v
	}

	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		return "", storeErr("add", err)
	}

	s.logger.Debug("scheduled message",
		"id", msg.ID,
		"sender", msg.SenderID,
		"sending_time", msg.SendingTime)
	return msg.ID, nil
}

// Get returns the message with the given id.
func (s *MongoStore) Get(ctx context.Context, id string) (*Message, error) {
	var doc bson.M
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, storeErr("get", err)
	}
	return DecodeFields(id, Fields(doc))
}

// ListForSender returns the valid messages owned by senderID.
func (s *MongoStore) ListForSender(ctx context.Context, senderID string) ([]*Message, error) {
	return s.find(ctx, "sender", bson.M{FieldSenderID: senderID}, nil)
}

// Pending returns valid messages due at now in ascending sending time.
func (s *MongoStore) Pending(ctx context.Context, now time.Time) ([]*Message, error) {
	filter := bson.M{FieldSendingTime: bson.M{"$lte": now.UnixMilli()}}
	opts := options.Find().SetSort(bson.D{{Key: FieldSendingTime, Value: 1}})
	return s.find(ctx, "pending", filter, opts)
}

// Delete removes the message. Absent ids are ignored.
func (s *MongoStore) Delete(ctx context.Context, id string) error {
	if _, err := s.collection.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return storeErr("delete", err)
	}
	return nil
}

// BindConversation records a resolved conversation id.
func (s *MongoStore) BindConversation(ctx context.Context, id, conversationID string) error {
	res, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{FieldConversationID: conversationID}},
	)
	if err != nil {
		return storeErr("bind", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) find(ctx context.Context, query string, filter bson.M, opts *options.FindOptions) ([]*Message, error) {
	var cursor *mongo.Cursor
	var err error
	if opts != nil {
		cursor, err = s.collection.Find(ctx, filter, opts)
	} else {
		cursor, err = s.collection.Find(ctx, filter)
	}
	if err != nil {
		return nil, storeErr(query, err)
	}
	defer cursor.Close(ctx)

	var ids []string
	var records []Fields
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, storeErr(query, fmt.Errorf("decode: %w", err))
		}
		ids = append(ids, fmt.Sprint(doc["_id"]))
		delete(doc, "_id")
		records = append(records, Fields(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, storeErr(query, err)
	}

	return decodeAll(s.logger, query, ids, records), nil
}

// Compile-time checks
var (
	_ Store              = (*MongoStore)(nil)
	_ ConversationBinder = (*MongoStore)(nil)
)
