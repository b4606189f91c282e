package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// Limit allows Max requests per Window for one caller
type Limit struct {
	Max    int
	Window time.Duration
}

var (
	// AuthLimit guards register, login and password reset
	AuthLimit = Limit{Max: 5, Window: 15 * time.Minute}
	// SendLimit guards message sends over REST
	SendLimit = Limit{Max: 30, Window: time.Minute}
	// UploadLimit guards file uploads
	UploadLimit = Limit{Max: 10, Window: 5 * time.Minute}
)

// Handler builds the limiter. Callers are keyed by user ID once
// authenticated, by IP before that.
func (l Limit) Handler() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        l.Max,
		Expiration: l.Window,
		KeyGenerator: func(c *fiber.Ctx) string {
			if userID := GetUserID(c); userID != "" {
				return "user:" + userID
			}
			return "ip:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(l.Window.Seconds())))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error":   "Too many requests, please try again later",
			})
		},
	})
}
