package handlers

import (
	"errors"
	"time"

	"getchat/internal/models"
	"getchat/internal/store"
	"getchat/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// RegisterRequest represents registration request body
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// LoginRequest represents login request body
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// ForgotPasswordRequest swaps the password using one of the security codes
type ForgotPasswordRequest struct {
	Email        string `json:"email" validate:"required,email"`
	SecurityCode string `json:"security_code" validate:"required"`
	NewPassword  string `json:"new_password" validate:"required,min=6"`
}

// Register creates an account. The security codes are only shown here and
// through /api/me/security-codes.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	hashedPassword, err := utils.HashPassword(req.Password)
	if err != nil {
		return h.internalError(c, "Failed to hash password", err)
	}

	codes := utils.GenerateSecurityCodes()

	now := time.Now().UTC()
	user := &models.User{
		ID:            uuid.NewString(),
		Username:      req.Username,
		Email:         req.Email,
		PasswordHash:  hashedPassword,
		SecurityCodes: codes,
		LastSeen:      now,
		CreatedAt:     now,
	}
	if err := h.store.CreateUser(c.UserContext(), user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return fail(c, fiber.StatusConflict, "Email or username already registered")
		}
		return h.internalError(c, "Failed to create user", err)
	}

	return success(c, fiber.StatusCreated, fiber.Map{
		"user":           user.ToResponse(),
		"security_codes": codes,
	})
}

// Login checks the credentials and issues a bearer token
func (h *Handler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	user, err := h.store.GetUserByEmail(c.UserContext(), req.Email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return h.internalError(c, "Database error", err)
	}
	if user == nil || !utils.CheckPassword(user.PasswordHash, req.Password) {
		return fail(c, fiber.StatusUnauthorized, "Incorrect email or password")
	}

	token, err := h.tokens.Generate(user.Email)
	if err != nil {
		return h.internalError(c, "Failed to generate token", err)
	}

	c.Cookie(&fiber.Cookie{
		Name:     "token",
		Value:    token,
		HTTPOnly: true,
		SameSite: "Lax",
		MaxAge:   int(h.tokens.TTL().Seconds()),
	})

	return success(c, fiber.StatusOK, fiber.Map{
		"access_token": token,
		"token_type":   "bearer",
		"expires_in":   int(h.tokens.TTL().Seconds()),
		"user":         user.ToResponse(),
	})
}

// ForgotPassword sets a new password when the security code matches. The
// code is consumed.
func (h *Handler) ForgotPassword(c *fiber.Ctx) error {
	var req ForgotPasswordRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	hashedPassword, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return h.internalError(c, "Failed to hash password", err)
	}

	err = h.store.ResetPassword(c.UserContext(), req.Email, req.SecurityCode, hashedPassword)
	if errors.Is(err, store.ErrNotFound) {
		return fail(c, fiber.StatusBadRequest, "Invalid email or security code")
	}
	if err != nil {
		return h.internalError(c, "Failed to update password", err)
	}

	return success(c, fiber.StatusOK, fiber.Map{
		"message": "Password updated successfully",
	})
}
