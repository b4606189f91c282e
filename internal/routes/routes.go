package routes

import (
	"context"

	"getchat/internal/handlers"
	"getchat/internal/middleware"
	"getchat/internal/store"
	"getchat/internal/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// SetupRoutes configures all application routes. ctx bounds the lifetime of
// WebSocket sessions.
func SetupRoutes(ctx context.Context, app *fiber.App, h *handlers.Handler, tokens *utils.TokenManager, users store.Users, log *zap.Logger) {
	auth := middleware.Auth(tokens, users, log)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"message": "Get Chat API"})
	})

	// WebSocket authenticates with its first frame
	app.Get("/ws", handlers.WebSocketUpgrade, h.WebSocket(ctx))

	api := app.Group("/api")
	api.Get("/health", h.Health)

	// Auth routes (public)
	api.Post("/register", middleware.AuthLimit.Handler(), h.Register)
	api.Post("/login", middleware.AuthLimit.Handler(), h.Login)
	api.Post("/forgot-password", middleware.AuthLimit.Handler(), h.ForgotPassword)

	// Everything below requires a bearer token
	api.Get("/users", auth, h.GetUsers)
	api.Get("/users/:id", auth, h.GetUser)

	api.Get("/me", auth, h.GetMe)
	api.Patch("/me", auth, h.UpdateMe)
	api.Get("/me/security-codes", auth, h.GetSecurityCodes)

	messages := api.Group("/messages", auth)
	messages.Post("/", middleware.SendLimit.Handler(), h.SendMessage)
	messages.Put("/read", h.MarkAsRead)
	messages.Get("/:userId", h.GetMessages)

	groups := api.Group("/groups", auth)
	groups.Post("/", h.CreateGroup)
	groups.Get("/", h.GetGroups)
	groups.Get("/:id", h.GetGroupDetails)
	groups.Patch("/:id", h.UpdateGroup)
	groups.Delete("/:id/members/:userId", h.RemoveGroupMember)
	groups.Get("/:id/messages", h.GetGroupMessages)
	groups.Post("/:id/messages", middleware.SendLimit.Handler(), h.SendGroupMessage)
	groups.Post("/:id/read", h.MarkGroupRead)
	groups.Get("/:id/read-markers", h.GetReadMarkers)
	groups.Post("/:id/invitations", h.CreateInvitation)

	invitations := api.Group("/invitations", auth)
	invitations.Get("/", h.GetInvitations)
	invitations.Post("/:id/accept", h.AcceptInvitation)
	invitations.Post("/:id/reject", h.RejectInvitation)

	uploads := api.Group("/upload", auth)
	uploads.Post("/", middleware.UploadLimit.Handler(), h.UploadFile)
	uploads.Post("/avatar", middleware.UploadLimit.Handler(), h.UploadAvatar)

	api.Get("/ws/stats", auth, h.GetWebSocketStats)
}
