package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE for a foreign key violation.
const foreignKeyViolation = "23503"

/*
PostgreSQL Schema:

CREATE TABLE conversations (
    id                VARCHAR(64) PRIMARY KEY,
    user1             VARCHAR(255) NOT NULL,
    user2             VARCHAR(255) NOT NULL,
    last_message      TEXT NOT NULL DEFAULT '',
    last_message_time BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX idx_conversations_user1 ON conversations(user1);
CREATE INDEX idx_conversations_user2 ON conversations(user2);

CREATE TABLE conversation_messages (
    id              VARCHAR(64) PRIMARY KEY,
    conversation_id VARCHAR(64) NOT NULL REFERENCES conversations(id),
    sender_id       VARCHAR(255) NOT NULL,
    message         TEXT NOT NULL,
    message_type    VARCHAR(32) NOT NULL,
    timestamp       BIGINT NOT NULL
);

CREATE INDEX idx_conversation_messages_log ON conversation_messages(conversation_id, timestamp);
*/

// PostgresStore is a PostgreSQL-based conversation store.
type PostgresStore struct {
	db                 *sql.DB
	conversationsTable string
	messagesTable      string
}

// NewPostgresStore creates a new PostgreSQL conversation store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:                 db,
		conversationsTable: "conversations",
		messagesTable:      "conversation_messages",
	}
}

// WithTables sets custom table names.
func (s *PostgresStore) WithTables(conversations, messages string) *PostgresStore {
	s.conversationsTable = conversations
	s.messagesTable = messages
	return s
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	c, m := s.conversationsTable, s.messagesTable
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id                VARCHAR(64) PRIMARY KEY,
			user1             VARCHAR(255) NOT NULL,
			user2             VARCHAR(255) NOT NULL,
			last_message      TEXT NOT NULL DEFAULT '',
			last_message_time BIGINT NOT NULL DEFAULT 0
		)`, c),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_user1 ON %s(user1)`, c, c),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_user2 ON %s(user2)`, c, c),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id              VARCHAR(64) PRIMARY KEY,
			conversation_id VARCHAR(64) NOT NULL REFERENCES %s(id),
			sender_id       VARCHAR(255) NOT NULL,
			message         TEXT NOT NULL,
			message_type    VARCHAR(32) NOT NULL,
			timestamp       BIGINT NOT NULL
		)`, m, c),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_log ON %s(conversation_id, timestamp)`, m, m),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Create stores a new conversation.
func (s *PostgresStore) Create(ctx context.Context, c *Conversation) (string, error) {
	if err := validateParticipants(c); err != nil {
		return "", err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, user1, user2, last_message, last_message_time)
		VALUES ($1, $2, $3, $4, $5)
	`, s.conversationsTable)
	if _, err := s.db.ExecContext(ctx, query, c.ID, c.User1, c.User2, c.LastMessage, c.LastMessageTime); err != nil {
		return "", fmt.Errorf("insert: %w", err)
	}
	return c.ID, nil
}

// Get returns a conversation.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Conversation, error) {
	query := fmt.Sprintf(`
		SELECT id, user1, user2, last_message, last_message_time
		FROM %s WHERE id = $1
	`, s.conversationsTable)

	var c Conversation
	err := s.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.User1, &c.User2, &c.LastMessage, &c.LastMessageTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query: %w", err)
	}
	return &c, nil
}

// FindByUser1 returns conversations whose first participant is userID.
func (s *PostgresStore) FindByUser1(ctx context.Context, userID string) ([]*Conversation, error) {
	return s.find(ctx, "user1", userID)
}

// FindByUser2 returns conversations whose second participant is userID.
func (s *PostgresStore) FindByUser2(ctx context.Context, userID string) ([]*Conversation, error) {
	return s.find(ctx, "user2", userID)
}

func (s *PostgresStore) find(ctx context.Context, column, userID string) ([]*Conversation, error) {
	query := fmt.Sprintf(`
		SELECT id, user1, user2, last_message, last_message_time
		FROM %s WHERE %s = $1
	`, s.conversationsTable, column)

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var result []*Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.User1, &c.User2, &c.LastMessage, &c.LastMessageTime); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		result = append(result, &c)
	}
	return result, rows.Err()
}

// AppendMessage inserts msg into the message log. The conversation_id
// foreign key rejects unknown conversations with ErrNotFound.
func (s *PostgresStore) AppendMessage(ctx context.Context, msg *Message) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, conversation_id, sender_id, message, message_type, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.messagesTable)
	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.Type, msg.Timestamp)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("insert message: %w", err)
	}
	return msg.ID, nil
}

// UpdateSummary sets the last-message pair.
func (s *PostgresStore) UpdateSummary(ctx context.Context, conversationID, lastMessage string, at int64) error {
	query := fmt.Sprintf(`
		UPDATE %s SET last_message = $2, last_message_time = $3 WHERE id = $1
	`, s.conversationsTable)

	result, err := s.db.ExecContext(ctx, query, conversationID, lastMessage, at)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
