package handlers

import (
	"errors"

	"getchat/internal/middleware"
	"getchat/internal/models"
	"getchat/internal/store"
	ws "getchat/internal/websocket"

	"github.com/gofiber/fiber/v2"
)

// SendMessageRequest represents a direct message sent over REST
type SendMessageRequest struct {
	ReceiverID string            `json:"receiver_id" validate:"required"`
	Content    string            `json:"content" validate:"required_without=MediaURL,max=4000"`
	MediaURL   *string           `json:"media_url"`
	MediaType  *models.MediaType `json:"media_type" validate:"required_with=MediaURL,omitempty,oneof=image video"`
}

// MarkReadRequest lists the direct messages the caller has read
type MarkReadRequest struct {
	MessageIDs []string `json:"message_ids" validate:"required,min=1,dive,required"`
}

// GetMessages returns the conversation between the caller and :userId
func (h *Handler) GetMessages(c *fiber.Ctx) error {
	messages, err := h.store.Conversation(c.UserContext(), middleware.GetUserID(c), c.Params("userId"))
	if err != nil {
		return h.internalError(c, "Failed to fetch messages", err)
	}
	if messages == nil {
		messages = []models.Message{}
	}
	return success(c, fiber.StatusOK, messages)
}

// SendMessage stores a direct message and pushes it like the socket does
func (h *Handler) SendMessage(c *fiber.Ctx) error {
	var req SendMessageRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	ctx := c.UserContext()
	if _, err := h.store.GetUserByID(ctx, req.ReceiverID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fail(c, fiber.StatusNotFound, "Receiver not found")
		}
		return h.internalError(c, "Failed to send message", err)
	}

	msg, err := h.router.SendDirect(ctx, middleware.GetUser(c), &ws.DirectMessageEvent{
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
		MediaURL:   req.MediaURL,
		MediaType:  req.MediaType,
	})
	if err != nil {
		return h.internalError(c, "Failed to send message", err)
	}
	return success(c, fiber.StatusCreated, msg)
}

// MarkAsRead is the REST form of the read receipt
func (h *Handler) MarkAsRead(c *fiber.Ctx) error {
	var req MarkReadRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	read, err := h.router.MarkRead(c.UserContext(), middleware.GetUserID(c), req.MessageIDs)
	if err != nil {
		return h.internalError(c, "Failed to update read status", err)
	}

	ids := make([]string, 0, len(read))
	for _, m := range read {
		ids = append(ids, m.ID)
	}
	return success(c, fiber.StatusOK, fiber.Map{
		"message_ids": ids,
	})
}
