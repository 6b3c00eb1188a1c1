package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/chatwire/chatwire/internal/domain"
)

type sendMessageRequest struct {
	ReceiverID  string `json:"receiver_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
}

// SendMessage persists a message and fans it out to the conversation
// channel.
// POST /v1/messages
func (h *Handler) SendMessage(c echo.Context) error {
	ctx := c.Request().Context()

	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.MessageType == "" {
		req.MessageType = string(domain.MessageTypeText)
	}

	result, err := h.service.Send(ctx, identityFrom(c), req.ReceiverID, req.Content, domain.MessageType(req.MessageType))
	if err != nil {
		log.Printf("ERROR: failed to send message: %v", err)
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusCreated, map[string]string{
		"conversation_id": result.ConversationID,
		"message_id":      result.MessageID,
	})
}

// GetRecentMessages returns the hot window of the conversation with the
// given user, oldest first. An empty list means the window expired; the
// client should fall back to history.
// GET /v1/conversations/:user_id/messages
func (h *Handler) GetRecentMessages(c echo.Context) error {
	ctx := c.Request().Context()

	messages, err := h.service.Recent(ctx, identityFrom(c), c.Param("user_id"))
	if err != nil {
		log.Printf("ERROR: failed to get recent messages: %v", err)
		return errorResponse(c, err)
	}
	if messages == nil {
		messages = []domain.Message{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"messages": messages,
	})
}

// GetMessageHistory pages backwards through the durable record.
// GET /v1/conversations/:user_id/history?before=<ts>&limit=<n>
func (h *Handler) GetMessageHistory(c echo.Context) error {
	ctx := c.Request().Context()

	before, _ := strconv.ParseInt(c.QueryParam("before"), 10, 64)
	if before <= 0 {
		before = time.Now().UnixMilli()
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 50
	}

	// Fetch one past the page to learn whether older history remains.
	messages, err := h.service.OlderMessages(ctx, identityFrom(c), c.Param("user_id"), before, limit+1)
	if err != nil {
		log.Printf("ERROR: failed to get message history: %v", err)
		return errorResponse(c, err)
	}
	if messages == nil {
		messages = []domain.Message{}
	}

	hasMore := len(messages) > limit
	if hasMore {
		// The result is ascending; the page is the newest limit entries
		// below the cursor.
		messages = messages[len(messages)-limit:]
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"messages": messages,
		"has_more": hasMore,
	})
}

type editMessageRequest struct {
	Content string `json:"content"`
}

// EditMessage replaces the content of a message the caller sent.
// PATCH /v1/messages/:message_id
func (h *Handler) EditMessage(c echo.Context) error {
	ctx := c.Request().Context()

	var req editMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	if err := h.service.Edit(ctx, identityFrom(c), c.Param("message_id"), req.Content); err != nil {
		log.Printf("ERROR: failed to edit message: %v", err)
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "edited"})
}

// DeleteMessage tombstones a message. The id and ordering survive; the
// content is no longer served.
// DELETE /v1/messages/:message_id
func (h *Handler) DeleteMessage(c echo.Context) error {
	ctx := c.Request().Context()

	if err := h.service.Delete(ctx, identityFrom(c), c.Param("message_id")); err != nil {
		log.Printf("ERROR: failed to delete message: %v", err)
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}

type reactionRequest struct {
	Reaction string `json:"reaction"`
}

// ReactToMessage sets the caller's reaction on a message. A later
// reaction overwrites the earlier one.
// PUT /v1/messages/:message_id/reaction
func (h *Handler) ReactToMessage(c echo.Context) error {
	ctx := c.Request().Context()

	var req reactionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	if err := h.service.React(ctx, identityFrom(c), c.Param("message_id"), req.Reaction); err != nil {
		log.Printf("ERROR: failed to set reaction: %v", err)
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "reacted"})
}
