package scheduled

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

/*
PostgreSQL Schema:

CREATE TABLE scheduled_sends (
    id              VARCHAR(64) PRIMARY KEY,
    sender_id       VARCHAR(255),
    receiver_id     VARCHAR(255),
    message_content TEXT,
    sending_time    BIGINT,
    conversation_id VARCHAR(255)
);

CREATE INDEX idx_scheduled_sends_due ON scheduled_sends(sending_time);
CREATE INDEX idx_scheduled_sends_sender ON scheduled_sends(sender_id);

Columns are nullable so rows imported from elsewhere can be stored and
skipped at read time instead of rejected at write time.
*/

// PostgresStore is a PostgreSQL-based scheduled message store.
//
// It works with any database/sql driver that understands $n placeholders;
// the daemon registers pgx through github.com/jackc/pgx/v5/stdlib.
type PostgresStore struct {
	db     *sql.DB
	table  string
	idGen  IDGenerator
	logger *slog.Logger
}

// NewPostgresStore creates a new PostgreSQL scheduled message store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:     db,
		table:  "scheduled_sends",
		idGen:  NewUUID,
		logger: slog.Default().With("component", "scheduled.postgres"),
	}
}

// WithTable sets a custom table name.
func (s *PostgresStore) WithTable(table string) *PostgresStore {
	s.table = table
	return s
}

// WithIDGenerator sets the id allocator used by Add.
func (s *PostgresStore) WithIDGenerator(gen IDGenerator) *PostgresStore {
	s.idGen = gen
	return s
}

// WithLogger sets a custom logger.
func (s *PostgresStore) WithLogger(l *slog.Logger) *PostgresStore {
	s.logger = l
	return s
}

// EnsureSchema creates the table and indexes if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id              VARCHAR(64) PRIMARY KEY,
			sender_id       VARCHAR(255),
			receiver_id     VARCHAR(255),
			message_content TEXT,
			sending_time    BIGINT,
			conversation_id VARCHAR(255)
		)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_due ON %s(sending_time)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_sender ON %s(sender_id)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Add stores the message.
func (s *PostgresStore) Add(ctx context.Context, msg *Message) (string, error) {
	if err := assignID(msg, s.idGen); err != nil {
		return "", err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, sender_id, receiver_id, message_content, sending_time, conversation_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.table)

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.SenderID,
		msg.ReceiverID,
		msg.Content,
		msg.SendingTime,
		sql.NullString{String: msg.ConversationID, Valid: msg.ConversationID != ""},
	)
	if err != nil {
		return "", storeErr("add", err)
	}

	s.logger.Debug("scheduled message",
		"id", msg.ID,
		"sender", msg.SenderID,
		"sending_time", msg.SendingTime)
	return msg.ID, nil
}

// Get returns the message with the given id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Message, error) {
	query := fmt.Sprintf(`
		SELECT id, sender_id, receiver_id, message_content, sending_time, conversation_id
		FROM %s WHERE id = $1
	`, s.table)

	id, f, err := scanRow(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storeErr("get", err)
	}
	return DecodeFields(id, f)
}

// ListForSender returns the valid messages owned by senderID.
func (s *PostgresStore) ListForSender(ctx context.Context, senderID string) ([]*Message, error) {
	query := fmt.Sprintf(`
		SELECT id, sender_id, receiver_id, message_content, sending_time, conversation_id
		FROM %s WHERE sender_id = $1
	`, s.table)
	return s.query(ctx, "sender", query, senderID)
}

// Pending returns valid messages due at now in ascending sending time.
func (s *PostgresStore) Pending(ctx context.Context, now time.Time) ([]*Message, error) {
	query := fmt.Sprintf(`
		SELECT id, sender_id, receiver_id, message_content, sending_time, conversation_id
		FROM %s WHERE sending_time <= $1
		ORDER BY sending_time ASC
	`, s.table)
	return s.query(ctx, "pending", query, now.UnixMilli())
}

// Delete removes the message. Absent ids are ignored.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.table)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return storeErr("delete", err)
	}
	return nil
}

// BindConversation records a resolved conversation id.
func (s *PostgresStore) BindConversation(ctx context.Context, id, conversationID string) error {
	query := fmt.Sprintf("UPDATE %s SET conversation_id = $2 WHERE id = $1", s.table)
	result, err := s.db.ExecContext(ctx, query, id, conversationID)
	if err != nil {
		return storeErr("bind", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return storeErr("bind", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) query(ctx context.Context, name, query string, args ...any) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(name, err)
	}
	defer rows.Close()

	var ids []string
	var records []Fields
	for rows.Next() {
		id, f, err := scanRow(rows)
		if err != nil {
			return nil, storeErr(name, err)
		}
		ids = append(ids, id)
		records = append(records, f)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(name, err)
	}

	return decodeAll(s.logger, name, ids, records), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRow reads one row into Fields, leaving NULL columns absent.
func scanRow(row rowScanner) (string, Fields, error) {
	var (
		id                                      string
		sender, receiver, content, conversation sql.NullString
		sendingTime                             sql.NullInt64
	)
	if err := row.Scan(&id, &sender, &receiver, &content, &sendingTime, &conversation); err != nil {
		return "", nil, err
	}

	f := Fields{}
	if sender.Valid {
		f[FieldSenderID] = sender.String
	}
	if receiver.Valid {
		f[FieldReceiverID] = receiver.String
	}
	if content.Valid {
		f[FieldContent] = content.String
	}
	if sendingTime.Valid {
		f[FieldSendingTime] = sendingTime.Int64
	}
	if conversation.Valid {
		f[FieldConversationID] = conversation.String
	}
	return id, f, nil
}

// Compile-time checks
var (
	_ Store              = (*PostgresStore)(nil)
	_ ConversationBinder = (*PostgresStore)(nil)
)
