// Package store provides the durable tier for messages and conversation
// indices. The service treats it as an opaque keyed document store: point
// lookups by id, idempotent conversation appends and a timestamp-filtered
// history scan.
package store

import (
	"context"

	"github.com/chatwire/chatwire/internal/domain"
)

// Store is the durable message store. Implementations must be safe for
// concurrent use from many connection handlers.
type Store interface {
	// AppendMessage inserts the message document and appends its id to the
	// conversation's ordered sequence, creating the conversation record on
	// first use.
	AppendMessage(ctx context.Context, conversationID string, msg *domain.Message) error

	// GetMessage returns the message with the given id, or
	// domain.ErrNotFound.
	GetMessage(ctx context.Context, messageID string) (*domain.Message, error)

	// GetConversation returns the conversation record with its message-id
	// sequence in insertion order, or domain.ErrNotFound.
	GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error)

	// OlderMessages returns up to limit messages of the conversation with
	// timestamp strictly before beforeTimestamp, ordered ascending by
	// timestamp (oldest of the window first).
	OlderMessages(ctx context.Context, conversationID string, beforeTimestamp int64, limit int) ([]domain.Message, error)

	// UpdateContent sets the message content and the edited flag.
	UpdateContent(ctx context.Context, messageID, content string) error

	// MarkDeleted sets the tombstone flag. The document is never removed.
	MarkDeleted(ctx context.Context, messageID string) error

	// SetReaction overwrites the message's reaction (last write wins).
	SetReaction(ctx context.Context, messageID, reaction string) error

	Close() error
}
