// Package handlers implements the REST surface of the chat server.
package handlers

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"getchat/internal/media"
	"getchat/internal/store"
	"getchat/internal/utils"
	ws "getchat/internal/websocket"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Deps are the collaborators shared by every handler
type Deps struct {
	Store    store.Store
	Registry *ws.Registry
	Router   *ws.Router
	Gateway  *ws.Gateway
	Tokens   *utils.TokenManager
	Uploader media.Uploader
	Log      *zap.Logger

	MaxUploadSize int64
}

// Handler serves the REST endpoints
type Handler struct {
	store    store.Store
	registry *ws.Registry
	router   *ws.Router
	gateway  *ws.Gateway
	tokens   *utils.TokenManager
	uploader media.Uploader
	log      *zap.Logger
	validate *validator.Validate

	maxUploadSize int64
}

func New(d Deps) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		store:    d.Store,
		registry: d.Registry,
		router:   d.Router,
		gateway:  d.Gateway,
		tokens:   d.Tokens,
		uploader: d.Uploader,
		log:      d.Log,
		validate: v,

		maxUploadSize: d.MaxUploadSize,
	}
}

// ErrorHandler renders errors that escape a handler in the response envelope
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "Internal server error"

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			message = fe.Message
		} else {
			log.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
		}

		return c.Status(code).JSON(fiber.Map{
			"success": false,
			"error":   message,
		})
	}
}

// bind parses and validates the request body into req
func (h *Handler) bind(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request body"
	}

	fe := verrs[0]
	switch fe.Tag() {
	case "required", "required_with", "required_without":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

func success(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

func fail(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

// internalError logs err and answers 500 with message
func (h *Handler) internalError(c *fiber.Ctx, message string, err error) error {
	h.log.Error(strings.ToLower(message), zap.String("path", c.Path()), zap.Error(err))
	return fail(c, fiber.StatusInternalServerError, message)
}
