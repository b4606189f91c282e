package handlers

import (
	"errors"
	"time"

	"getchat/internal/middleware"
	"getchat/internal/models"
	"getchat/internal/store"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// InviteRequest names the user to invite
type InviteRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// CreateInvitation invites a user into the group. Admins only.
func (h *Handler) CreateInvitation(c *fiber.Ctx) error {
	var req InviteRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	group, err := h.memberGroup(c)
	if err != nil {
		return err
	}
	if !group.IsAdmin(middleware.GetUserID(c)) {
		return fail(c, fiber.StatusForbidden, "Only admins can invite users")
	}
	if group.IsMember(req.UserID) {
		return fail(c, fiber.StatusConflict, "User is already a member")
	}

	if _, err := h.store.GetUserByID(c.UserContext(), req.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fail(c, fiber.StatusNotFound, "User not found")
		}
		return h.internalError(c, "Failed to create invitation", err)
	}

	inv, err := h.invite(c, group, req.UserID)
	if errors.Is(err, store.ErrPendingInvitation) {
		return fail(c, fiber.StatusConflict, "A pending invitation already exists")
	}
	if err != nil {
		return h.internalError(c, "Failed to create invitation", err)
	}
	return success(c, fiber.StatusCreated, inv)
}

// GetInvitations lists the caller's pending invitations
func (h *Handler) GetInvitations(c *fiber.Ctx) error {
	invs, err := h.store.PendingInvitations(c.UserContext(), middleware.GetUserID(c))
	if err != nil {
		return h.internalError(c, "Failed to fetch invitations", err)
	}
	if invs == nil {
		invs = []models.Invitation{}
	}
	return success(c, fiber.StatusOK, invs)
}

// AcceptInvitation joins the group as a member
func (h *Handler) AcceptInvitation(c *fiber.Ctx) error {
	return h.respondInvitation(c, models.InvitationAccepted)
}

// RejectInvitation declines the invitation
func (h *Handler) RejectInvitation(c *fiber.Ctx) error {
	return h.respondInvitation(c, models.InvitationRejected)
}

func (h *Handler) respondInvitation(c *fiber.Ctx, status models.InvitationStatus) error {
	ctx := c.UserContext()

	inv, err := h.store.GetInvitation(ctx, c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return fail(c, fiber.StatusNotFound, "Invitation not found")
	}
	if err != nil {
		return h.internalError(c, "Failed to fetch invitation", err)
	}
	if inv.InvitedUserID != middleware.GetUserID(c) {
		return fail(c, fiber.StatusForbidden, "This invitation is not for you")
	}

	inv, err = h.store.RespondInvitation(ctx, inv.ID, status, time.Now().UTC())
	switch {
	case errors.Is(err, store.ErrInvitationClosed):
		return fail(c, fiber.StatusConflict, "Invitation is no longer pending")
	case errors.Is(err, store.ErrNotFound):
		return fail(c, fiber.StatusNotFound, "Group not found")
	case err != nil:
		return h.internalError(c, "Failed to update invitation", err)
	}
	return success(c, fiber.StatusOK, inv)
}

// invite stores a pending invitation and pushes it to the invitee if online
func (h *Handler) invite(c *fiber.Ctx, group *models.Group, userID string) (*models.Invitation, error) {
	now := time.Now().UTC()
	inv := &models.Invitation{
		ID:            uuid.NewString(),
		GroupID:       group.ID,
		InvitedUserID: userID,
		InvitedBy:     middleware.GetUserID(c),
		Status:        models.InvitationPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := h.store.CreateInvitation(c.UserContext(), inv); err != nil {
		return nil, err
	}
	h.router.PushInvitation(inv, group.Name)
	return inv, nil
}
