package middleware

import (
	"errors"
	"strings"

	"getchat/internal/models"
	"getchat/internal/store"
	"getchat/internal/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	localUser   = "user"
	localUserID = "userID"
)

// Verifier turns a bearer token into the email it was issued for
type Verifier interface {
	Verify(token string) (string, error)
}

// Auth validates the bearer token and loads the user it belongs to.
// The token is read from the Authorization header, falling back to the
// "token" cookie.
func Auth(tokens Verifier, users store.Users, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := bearerToken(c)
		if tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "Unauthorized - No token provided",
			})
		}

		email, err := tokens.Verify(tokenString)
		if errors.Is(err, utils.ErrTokenExpired) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "Token expired",
			})
		}
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "Unauthorized - Invalid token",
			})
		}

		user, err := users.GetUserByEmail(c.UserContext(), email)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				log.Error("failed to load user for token", zap.Error(err))
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "Unauthorized - User not found",
			})
		}

		// Store user info in context
		c.Locals(localUser, user)
		c.Locals(localUserID, user.ID)

		return c.Next()
	}
}

func bearerToken(c *fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "bearer") {
		return strings.TrimSpace(token)
	}
	return c.Cookies("token")
}

// GetUser gets the authenticated user from context
func GetUser(c *fiber.Ctx) *models.User {
	user, ok := c.Locals(localUser).(*models.User)
	if !ok {
		return nil
	}
	return user
}

// GetUserID gets user ID from context
func GetUserID(c *fiber.Ctx) string {
	userID, ok := c.Locals(localUserID).(string)
	if !ok {
		return ""
	}
	return userID
}
