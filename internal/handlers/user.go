package handlers

import (
	"errors"

	"getchat/internal/middleware"
	"getchat/internal/models"
	"getchat/internal/store"

	"github.com/gofiber/fiber/v2"
)

// UpdateProfileRequest holds the editable profile fields
type UpdateProfileRequest struct {
	Username  *string `json:"username" validate:"omitempty,min=3,max=32"`
	Bio       *string `json:"bio" validate:"omitempty,max=280"`
	AvatarURL *string `json:"avatar_url"`
}

// withPresence overrides the stored flag with the live registry state
func (h *Handler) withPresence(u *models.User) models.UserResponse {
	resp := u.ToResponse()
	resp.IsOnline = h.registry.IsOnline(u.ID)
	return resp
}

// GetUsers lists every account without credentials
func (h *Handler) GetUsers(c *fiber.Ctx) error {
	users, err := h.store.ListUsers(c.UserContext())
	if err != nil {
		return h.internalError(c, "Failed to fetch users", err)
	}

	result := make([]models.UserResponse, 0, len(users))
	for i := range users {
		result = append(result, h.withPresence(&users[i]))
	}
	return success(c, fiber.StatusOK, result)
}

// GetUser returns one account
func (h *Handler) GetUser(c *fiber.Ctx) error {
	user, err := h.store.GetUserByID(c.UserContext(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return fail(c, fiber.StatusNotFound, "User not found")
	}
	if err != nil {
		return h.internalError(c, "Failed to fetch user", err)
	}
	return success(c, fiber.StatusOK, h.withPresence(user))
}

// GetMe returns the caller's account
func (h *Handler) GetMe(c *fiber.Ctx) error {
	return success(c, fiber.StatusOK, h.withPresence(middleware.GetUser(c)))
}

// UpdateMe edits the caller's profile
func (h *Handler) UpdateMe(c *fiber.Ctx) error {
	var req UpdateProfileRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	user, err := h.store.UpdateProfile(c.UserContext(), middleware.GetUserID(c), models.ProfileUpdate{
		Username:  req.Username,
		Bio:       req.Bio,
		AvatarURL: req.AvatarURL,
	})
	if errors.Is(err, store.ErrDuplicate) {
		return fail(c, fiber.StatusConflict, "Username already taken")
	}
	if err != nil {
		return h.internalError(c, "Failed to update profile", err)
	}
	return success(c, fiber.StatusOK, h.withPresence(user))
}

// GetSecurityCodes returns the caller's remaining password reset codes
func (h *Handler) GetSecurityCodes(c *fiber.Ctx) error {
	codes := middleware.GetUser(c).SecurityCodes
	if codes == nil {
		codes = []string{}
	}
	return success(c, fiber.StatusOK, fiber.Map{
		"security_codes": codes,
	})
}
