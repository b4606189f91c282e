package handlers

import (
	"context"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// WebSocketUpgrade checks if the request should be upgraded to WebSocket
func WebSocketUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}

	return fail(c, fiber.StatusUpgradeRequired, "WebSocket upgrade required")
}

// WebSocket serves the realtime channel. Authentication happens inside the
// socket with the first frame, so the route is not behind the auth
// middleware.
func (h *Handler) WebSocket(ctx context.Context) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		h.gateway.Serve(ctx, c)
	})
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(c *fiber.Ctx) error {
	return success(c, fiber.StatusOK, fiber.Map{
		"online_users": h.registry.Count(),
		"user_ids":     h.registry.OnlineUsers(),
	})
}

// Health reports that the API is up
func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"message": "Get Chat API is running",
	})
}
