package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chatwire/chatwire/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dsn and runs
// migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across
	// goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			conversation_id TEXT PRIMARY KEY,
			sender_id TEXT NOT NULL,
			receiver_id TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			sender_id TEXT NOT NULL,
			receiver_id TEXT NOT NULL,
			content TEXT NOT NULL,
			message_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			reaction TEXT NOT NULL DEFAULT '',
			is_edited INTEGER NOT NULL DEFAULT 0,
			is_deleted INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			conversation_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			PRIMARY KEY (conversation_id, message_id),
			FOREIGN KEY (conversation_id) REFERENCES conversations(conversation_id),
			FOREIGN KEY (message_id) REFERENCES messages(message_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_messages_seq
			ON conversation_messages(conversation_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_timestamp
			ON messages(timestamp)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// AppendMessage writes the message document and appends its id to the
// conversation sequence inside one transaction. The conversation row is
// created on first use.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID string, msg *domain.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM conversations WHERE conversation_id = ?`,
		conversationID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO conversations (conversation_id, sender_id, receiver_id, created_at) VALUES (?, ?, ?, ?)`,
			conversationID, msg.SenderID, msg.ReceiverID, time.Now().UTC())
		if err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (message_id, sender_id, receiver_id, content, message_type, timestamp, reaction, is_edited, is_deleted)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.MessageID, msg.SenderID, msg.ReceiverID, msg.Content, msg.MessageType,
		msg.Timestamp, msg.Reaction, boolToInt(msg.IsEdited), boolToInt(msg.IsDeleted))
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversation_messages (conversation_id, message_id, seq)
		 SELECT ?, ?, COALESCE(MAX(seq), 0) + 1 FROM conversation_messages WHERE conversation_id = ?`,
		conversationID, msg.MessageID, conversationID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// GetMessage retrieves a message document by id.
func (s *SQLiteStore) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	var msg domain.Message
	var edited, deleted int
	err := s.db.QueryRowContext(ctx,
		`SELECT message_id, sender_id, receiver_id, content, message_type, timestamp, reaction, is_edited, is_deleted
		 FROM messages WHERE message_id = ?`, messageID).
		Scan(&msg.MessageID, &msg.SenderID, &msg.ReceiverID, &msg.Content,
			&msg.MessageType, &msg.Timestamp, &msg.Reaction, &edited, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	msg.IsEdited = edited != 0
	msg.IsDeleted = deleted != 0
	return &msg, nil
}

// GetConversation retrieves the conversation record and its message-id
// sequence in insertion order.
func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, sender_id, receiver_id, created_at FROM conversations WHERE conversation_id = ?`,
		conversationID).Scan(&conv.ConversationID, &conv.SenderID, &conv.ReceiverID, &conv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id FROM conversation_messages WHERE conversation_id = ? ORDER BY seq ASC`,
		conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		conv.MessageIDs = append(conv.MessageIDs, id)
	}
	return &conv, rows.Err()
}

// OlderMessages filters the conversation's message sequence to entries
// older than beforeTimestamp, takes the newest limit of those and returns
// them ascending by timestamp.
func (s *SQLiteStore) OlderMessages(ctx context.Context, conversationID string, beforeTimestamp int64, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.message_id, m.sender_id, m.receiver_id, m.content, m.message_type, m.timestamp, m.reaction, m.is_edited, m.is_deleted
		 FROM messages m
		 JOIN conversation_messages cm ON cm.message_id = m.message_id
		 WHERE cm.conversation_id = ? AND m.timestamp < ?
		 ORDER BY m.timestamp DESC, m.message_id DESC
		 LIMIT ?`,
		conversationID, beforeTimestamp, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var window []domain.Message
	for rows.Next() {
		var msg domain.Message
		var edited, deleted int
		if err := rows.Scan(&msg.MessageID, &msg.SenderID, &msg.ReceiverID, &msg.Content,
			&msg.MessageType, &msg.Timestamp, &msg.Reaction, &edited, &deleted); err != nil {
			return nil, err
		}
		msg.IsEdited = edited != 0
		msg.IsDeleted = deleted != 0
		window = append(window, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse the descending window to oldest-first.
	for i, j := 0, len(window)-1; i < j; i, j = i+1, j-1 {
		window[i], window[j] = window[j], window[i]
	}
	return window, nil
}

// UpdateContent sets the message content and the edited flag.
func (s *SQLiteStore) UpdateContent(ctx context.Context, messageID, content string) error {
	return s.updateMessage(ctx,
		`UPDATE messages SET content = ?, is_edited = 1 WHERE message_id = ?`, content, messageID)
}

// MarkDeleted sets the tombstone flag without touching the content.
func (s *SQLiteStore) MarkDeleted(ctx context.Context, messageID string) error {
	return s.updateMessage(ctx,
		`UPDATE messages SET is_deleted = 1 WHERE message_id = ?`, messageID)
}

// SetReaction overwrites the reaction field.
func (s *SQLiteStore) SetReaction(ctx context.Context, messageID, reaction string) error {
	return s.updateMessage(ctx,
		`UPDATE messages SET reaction = ? WHERE message_id = ?`, reaction, messageID)
}

func (s *SQLiteStore) updateMessage(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
