package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/chatwire/chatwire/internal/domain"
	"github.com/chatwire/chatwire/internal/metrics"
)

// SendResult carries the ids generated by a successful send.
type SendResult struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

// Send persists a new message in both tiers and fans it out. The durable
// write is authoritative; hot-tier writes are best-effort accelerators.
func (s *Service) Send(ctx context.Context, actor domain.Identity, receiverID, content string, msgType domain.MessageType) (SendResult, error) {
	if actor.UserID == "" {
		return SendResult{}, domain.ErrNotAuthenticated
	}
	if receiverID == "" || receiverID == actor.UserID || content == "" || !msgType.Valid() {
		return SendResult{}, ErrInvalidRequest
	}

	now := s.now()
	msg := &domain.Message{
		MessageID:   domain.NewMessageID(now),
		SenderID:    actor.UserID,
		ReceiverID:  receiverID,
		Content:     content,
		MessageType: msgType,
		Timestamp:   now.UnixMilli(),
	}
	conversationID := domain.ConversationID(actor.UserID, receiverID)

	if err := s.store.AppendMessage(ctx, conversationID, msg); err != nil {
		return SendResult{}, s.storageFailure("send", err)
	}

	indexKey := conversationID + ":messages"
	s.cache.ZAdd(indexKey, msg.Timestamp, msg.MessageID)
	s.cache.ZRemRangeByRank(indexKey, 0, -(hotIndexCap + 1))

	s.cache.HSet(msg.MessageID, messageFields(msg))
	s.cache.Expire(msg.MessageID, messageTTL)

	s.pub.Publish(domain.ChannelName(actor.UserID, receiverID), EventNewMessage, msg)

	metrics.MessagesTotal.WithLabelValues("send", "ok").Inc()
	return SendResult{ConversationID: conversationID, MessageID: msg.MessageID}, nil
}

// Recent returns the retained window of a conversation, oldest first.
// This is a recency-window read: when the hot-tier index is absent the
// result is empty and callers needing full history must paginate with
// OlderMessages.
func (s *Service) Recent(ctx context.Context, actor domain.Identity, otherUserID string) ([]domain.Message, error) {
	if actor.UserID == "" {
		return nil, domain.ErrNotAuthenticated
	}

	indexKey := domain.ConversationID(actor.UserID, otherUserID) + ":messages"
	if !s.cache.Exists(indexKey) {
		return []domain.Message{}, nil
	}

	ids := s.cache.ZRange(indexKey, 0, -1)
	out := make([]domain.Message, 0, len(ids))
	for _, id := range ids {
		if fields, ok := s.cache.HGetAll(id); ok {
			out = append(out, fieldsToMessage(id, fields))
			metrics.HotTierReadsTotal.WithLabelValues("hit").Inc()
			continue
		}
		msg, err := s.store.GetMessage(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			// Present in neither tier: drop it from the result.
			metrics.HotTierReadsTotal.WithLabelValues("dropped").Inc()
			continue
		}
		if err != nil {
			return nil, s.storageFailure("read", err)
		}
		metrics.HotTierReadsTotal.WithLabelValues("fallback").Inc()
		out = append(out, *msg)
	}
	return out, nil
}

// OlderMessages pages into history beyond the hot-tier window. It always
// reads the durable store. The result is ascending by timestamp.
func (s *Service) OlderMessages(ctx context.Context, actor domain.Identity, otherUserID string, beforeTimestamp int64, limit int) ([]domain.Message, error) {
	if actor.UserID == "" {
		return nil, domain.ErrNotAuthenticated
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	conversationID := domain.ConversationID(actor.UserID, otherUserID)
	msgs, err := s.store.OlderMessages(ctx, conversationID, beforeTimestamp, limit)
	if err != nil {
		return nil, s.storageFailure("history", err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}

// Edit replaces the message content. The durable record is updated
// unconditionally; the hot-tier copy only while it still exists, so an
// expired key is not resurrected.
func (s *Service) Edit(ctx context.Context, actor domain.Identity, messageID, newContent string) error {
	msg, err := s.authorize(ctx, actor, messageID, "edit")
	if err != nil {
		return err
	}
	if newContent == "" {
		return ErrInvalidRequest
	}

	if err := s.store.UpdateContent(ctx, messageID, newContent); err != nil {
		return s.storageFailure("edit", err)
	}
	s.cache.HSetIfExists(messageID, map[string]string{"content": newContent, "isEdited": "1"})

	s.pub.Publish(domain.ChannelName(msg.SenderID, msg.ReceiverID), EventMessageEdited, map[string]string{
		"message_id":  messageID,
		"new_content": newContent,
	})
	metrics.MessagesTotal.WithLabelValues("edit", "ok").Inc()
	return nil
}

// Delete marks the message as a tombstone. Content is never physically
// removed; presentation-layer consumers treat the flag as terminal.
func (s *Service) Delete(ctx context.Context, actor domain.Identity, messageID string) error {
	msg, err := s.authorize(ctx, actor, messageID, "delete")
	if err != nil {
		return err
	}

	if err := s.store.MarkDeleted(ctx, messageID); err != nil {
		return s.storageFailure("delete", err)
	}
	s.cache.HSetIfExists(messageID, map[string]string{"isDeleted": "1"})

	s.pub.Publish(domain.ChannelName(msg.SenderID, msg.ReceiverID), EventMessageDeleted, map[string]string{
		"message_id": messageID,
	})
	metrics.MessagesTotal.WithLabelValues("delete", "ok").Inc()
	return nil
}

// React overwrites the message's reaction. Single reaction per message,
// last write wins.
func (s *Service) React(ctx context.Context, actor domain.Identity, messageID, reaction string) error {
	msg, err := s.authorize(ctx, actor, messageID, "react")
	if err != nil {
		return err
	}

	if err := s.store.SetReaction(ctx, messageID, reaction); err != nil {
		return s.storageFailure("react", err)
	}
	s.cache.HSetIfExists(messageID, map[string]string{"reaction": reaction})

	s.pub.Publish(domain.ChannelName(msg.SenderID, msg.ReceiverID), EventMessageReacted, map[string]string{
		"message_id": messageID,
		"reaction":   reaction,
	})
	metrics.MessagesTotal.WithLabelValues("react", "ok").Inc()
	return nil
}

// authorize resolves the message from the durable store and evaluates the
// mutation policy for the actor.
func (s *Service) authorize(ctx context.Context, actor domain.Identity, messageID, action string) (*domain.Message, error) {
	if actor.UserID == "" {
		return nil, domain.ErrNotAuthenticated
	}
	msg, err := s.store.GetMessage(ctx, messageID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, s.storageFailure(action, err)
	}

	decision, err := s.policy.Evaluate(ctx, map[string]interface{}{
		"action":     action,
		"actor_id":   actor.UserID,
		"sender_id":  msg.SenderID,
		"is_deleted": msg.IsDeleted,
	})
	if err != nil {
		log.Printf("policy evaluation failed for %s on %s: %v", action, messageID, err)
		return nil, domain.ErrNotAllowed
	}
	if decision != "allow" {
		return nil, domain.ErrNotAllowed
	}
	return msg, nil
}

// storageFailure logs the underlying error and converts it into the
// generic failure result. Callers must treat it as "state may be
// partially applied" since the two tiers are not written transactionally.
func (s *Service) storageFailure(op string, err error) error {
	log.Printf("storage failure during %s: %v", op, err)
	metrics.MessagesTotal.WithLabelValues(op, "error").Inc()
	return fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
}

// messageFields mirrors a message into the hot-tier field map.
func messageFields(msg *domain.Message) map[string]string {
	return map[string]string{
		"senderId":    msg.SenderID,
		"receiverId":  msg.ReceiverID,
		"content":     msg.Content,
		"messageType": string(msg.MessageType),
		"timestamp":   strconv.FormatInt(msg.Timestamp, 10),
		"reaction":    msg.Reaction,
		"isEdited":    boolField(msg.IsEdited),
		"isDeleted":   boolField(msg.IsDeleted),
	}
}

// fieldsToMessage rebuilds a message from its hot-tier field map.
func fieldsToMessage(id string, fields map[string]string) domain.Message {
	ts, _ := strconv.ParseInt(fields["timestamp"], 10, 64)
	return domain.Message{
		MessageID:   id,
		SenderID:    fields["senderId"],
		ReceiverID:  fields["receiverId"],
		Content:     fields["content"],
		MessageType: domain.MessageType(fields["messageType"]),
		Timestamp:   ts,
		Reaction:    fields["reaction"],
		IsEdited:    fields["isEdited"] == "1",
		IsDeleted:   fields["isDeleted"] == "1",
	}
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
