package scheduled

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore keeps one document per scheduled message in a Firestore
// collection. Document ids come from the collection itself (NewDoc) unless an
// IDGenerator is set.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	idGen      IDGenerator
	logger     *slog.Logger
}

// NewFirestoreStore creates a Firestore-backed store on an existing client.
func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	s := &FirestoreStore{
		client:     client,
		collection: "scheduled_sends",
		logger:     slog.Default().With("component", "scheduled.firestore"),
	}
	s.idGen = func() (string, error) {
		return s.col().NewDoc().ID, nil
	}
	return s
}

// WithCollection sets a custom collection name.
func (s *FirestoreStore) WithCollection(name string) *FirestoreStore {
	s.collection = name
	return s
}

// WithIDGenerator replaces the collection-provided id allocator.
func (s *FirestoreStore) WithIDGenerator(gen IDGenerator) *FirestoreStore {
	s.idGen = gen
	return s
}

// WithLogger sets a custom logger.
func (s *FirestoreStore) WithLogger(l *slog.Logger) *FirestoreStore {
	s.logger = l
	return s
}

func (s *FirestoreStore) col() *firestore.CollectionRef {
	return s.client.Collection(s.collection)
}

// Add stores the message.
func (s *FirestoreStore) Add(ctx context.Context, msg *Message) (string, error) {
	if err := assignID(msg, s.idGen); err != nil {
		return "", err
	}

	if _, err := s.col().Doc(msg.ID).Set(ctx, map[string]interface{}(msg.ToFields())); err != nil {
		return "", storeErr("add", err)
	}

	s.logger.Debug("scheduled message",
		"id", msg.ID,
		"sender", msg.SenderID,
		"sending_time", msg.SendingTime)
	return msg.ID, nil
}

// Get returns the message with the given id.
func (s *FirestoreStore) Get(ctx context.Context, id string) (*Message, error) {
	snap, err := s.col().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, storeErr("get", err)
	}
	return DecodeFields(id, Fields(snap.Data()))
}

// ListForSender returns the valid messages owned by senderID.
func (s *FirestoreStore) ListForSender(ctx context.Context, senderID string) ([]*Message, error) {
	q := s.col().Where(FieldSenderID, "==", senderID)
	return s.collect(ctx, "sender", q)
}

// Pending returns valid messages due at now in ascending sending time.
func (s *FirestoreStore) Pending(ctx context.Context, now time.Time) ([]*Message, error) {
	q := s.col().
		Where(FieldSendingTime, "<=", now.UnixMilli()).
		OrderBy(FieldSendingTime, firestore.Asc)
	return s.collect(ctx, "pending", q)
}

// Delete removes the message. Absent ids are ignored.
func (s *FirestoreStore) Delete(ctx context.Context, id string) error {
	if _, err := s.col().Doc(id).Delete(ctx); err != nil {
		return storeErr("delete", err)
	}
	return nil
}

// BindConversation records a resolved conversation id.
func (s *FirestoreStore) BindConversation(ctx context.Context, id, conversationID string) error {
	_, err := s.col().Doc(id).Update(ctx, []firestore.Update{
		{Path: FieldConversationID, Value: conversationID},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		return storeErr("bind", err)
	}
	return nil
}

func (s *FirestoreStore) collect(ctx context.Context, query string, q firestore.Query) ([]*Message, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var ids []string
	var records []Fields
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, storeErr(query, err)
		}
		ids = append(ids, snap.Ref.ID)
		records = append(records, Fields(snap.Data()))
	}

	return decodeAll(s.logger, query, ids, records), nil
}

// Compile-time checks
var (
	_ Store              = (*FirestoreStore)(nil)
	_ ConversationBinder = (*FirestoreStore)(nil)
)
