package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatwire/chatwire/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func testMessage(id string, ts int64) *domain.Message {
	return &domain.Message{
		MessageID:   id,
		SenderID:    "u1",
		ReceiverID:  "u2",
		Content:     "hello",
		MessageType: domain.MessageTypeText,
		Timestamp:   ts,
	}
}

func TestAppendCreatesConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	convID := domain.ConversationID("u1", "u2")

	require.NoError(t, s.AppendMessage(ctx, convID, testMessage("m1", 100)))
	require.NoError(t, s.AppendMessage(ctx, convID, testMessage("m2", 200)))

	conv, err := s.GetConversation(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, convID, conv.ConversationID)
	assert.Equal(t, []string{"m1", "m2"}, conv.MessageIDs)
}

func TestGetMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendMessage(ctx, domain.ConversationID("u1", "u2"), testMessage("m1", 100)))

	msg, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "u1", msg.SenderID)
	assert.Equal(t, "hello", msg.Content)
	assert.False(t, msg.IsDeleted)

	_, err = s.GetMessage(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOlderMessagesWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	convID := domain.ConversationID("u1", "u2")

	var tsAt50 int64
	for i := 1; i <= 60; i++ {
		ts := int64(i) * 1000
		if i == 50 {
			tsAt50 = ts
		}
		require.NoError(t, s.AppendMessage(ctx, convID, testMessage(fmt.Sprintf("m%03d", i), ts)))
	}

	// Everything before message #50, oldest first.
	window, err := s.OlderMessages(ctx, convID, tsAt50, 50)
	require.NoError(t, err)
	require.Len(t, window, 49)
	assert.Equal(t, "m001", window[0].MessageID)
	assert.Equal(t, "m049", window[48].MessageID)

	// A small limit returns the newest part of the filtered range.
	window, err = s.OlderMessages(ctx, convID, tsAt50, 10)
	require.NoError(t, err)
	require.Len(t, window, 10)
	assert.Equal(t, "m040", window[0].MessageID)
	assert.Equal(t, "m049", window[9].MessageID)
}

func TestOlderMessagesEmpty(t *testing.T) {
	s := newTestStore(t)

	window, err := s.OlderMessages(context.Background(), domain.ConversationID("u1", "u2"), 1000, 50)
	require.NoError(t, err)
	assert.Empty(t, window)
}

func TestTombstoneKeepsContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendMessage(ctx, domain.ConversationID("u1", "u2"), testMessage("m1", 100)))
	require.NoError(t, s.MarkDeleted(ctx, "m1"))

	msg, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, msg.IsDeleted)
	assert.Equal(t, "hello", msg.Content)
}

func TestUpdateContentAndReaction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendMessage(ctx, domain.ConversationID("u1", "u2"), testMessage("m1", 100)))

	require.NoError(t, s.UpdateContent(ctx, "m1", "edited"))
	require.NoError(t, s.SetReaction(ctx, "m1", "👍"))

	msg, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "edited", msg.Content)
	assert.True(t, msg.IsEdited)
	assert.Equal(t, "👍", msg.Reaction)

	assert.ErrorIs(t, s.UpdateContent(ctx, "missing", "x"), domain.ErrNotFound)
	assert.ErrorIs(t, s.MarkDeleted(ctx, "missing"), domain.ErrNotFound)
	assert.ErrorIs(t, s.SetReaction(ctx, "missing", "x"), domain.ErrNotFound)
}
