// Package domain defines the core models shared across the chat and
// call-signaling components.
package domain

import (
	"encoding/json"
	"time"
)

// MessageType distinguishes plain text from image-reference messages.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	return t == MessageTypeText || t == MessageTypeImage
}

// Message is a single chat message. Messages are mutated in place by
// edit/delete/react and are never removed from durable storage; delete
// only sets the tombstone flag.
type Message struct {
	MessageID   string      `json:"message_id"`
	SenderID    string      `json:"sender_id"`
	ReceiverID  string      `json:"receiver_id"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"message_type"`
	Timestamp   int64       `json:"timestamp"` // Unix milliseconds
	Reaction    string      `json:"reaction,omitempty"`
	IsEdited    bool        `json:"is_edited"`
	IsDeleted   bool        `json:"is_deleted"`
}

// Conversation holds the ordered message-id sequence for a participant
// pair. Created lazily on first message, never deleted.
type Conversation struct {
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"` // initiating participant
	ReceiverID     string    `json:"receiver_id"`
	MessageIDs     []string  `json:"message_ids,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Profile is the lightweight user snapshot carried in presence records
// and broadcast with the online-user list.
type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Image string `json:"image,omitempty"`
}

// PresenceRecord maps an authenticated user to its active connection.
// At most one record exists per user; a reconnect replaces the previous
// record.
type PresenceRecord struct {
	UserID  string  `json:"user_id"`
	ConnID  string  `json:"conn_id"`
	Profile Profile `json:"profile"`
}

// CallState is the lifecycle state of a call session.
type CallState string

const (
	CallStateRinging    CallState = "RINGING"
	CallStateConnecting CallState = "CONNECTING"
	CallStateActive     CallState = "ACTIVE"
	CallStateEnded      CallState = "ENDED"
)

// CallSession is the in-memory state of one ongoing call, keyed by the
// unordered participant pair. Never persisted.
type CallSession struct {
	PairID     string          `json:"pair_id"`
	CallerID   string          `json:"caller_id"`
	ReceiverID string          `json:"receiver_id"`
	State      CallState       `json:"state"`
	IsRinging  bool            `json:"is_ringing"`
	StartedAt  time.Time       `json:"started_at"`
	LastSignal json.RawMessage `json:"last_signal,omitempty"`
}

// Identity is the verified actor supplied by the authentication
// collaborator.
type Identity struct {
	UserID  string
	Profile Profile
}
