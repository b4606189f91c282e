package handlers

import (
	"errors"
	"time"

	"getchat/internal/middleware"
	"getchat/internal/models"
	"getchat/internal/store"
	ws "getchat/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateGroupRequest represents create group request body
type CreateGroupRequest struct {
	Name          string   `json:"name" validate:"required,max=100"`
	PictureURL    *string  `json:"picture_url"`
	InviteUserIDs []string `json:"invite_user_ids" validate:"dive,required"`
}

// UpdateGroupRequest represents update group request body
type UpdateGroupRequest struct {
	Name       *string `json:"name" validate:"omitempty,min=1,max=100"`
	PictureURL *string `json:"picture_url"`
}

// SendGroupMessageRequest represents a group message sent over REST
type SendGroupMessageRequest struct {
	Content   string            `json:"content" validate:"required_without=MediaURL,max=4000"`
	MediaURL  *string           `json:"media_url"`
	MediaType *models.MediaType `json:"media_type" validate:"required_with=MediaURL,omitempty,oneof=image video"`
}

// CreateGroup creates a group with the caller as admin and invites the
// listed users
func (h *Handler) CreateGroup(c *fiber.Ctx) error {
	var req CreateGroupRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	ctx := c.UserContext()
	userID := middleware.GetUserID(c)

	// Every invitee must exist before anything is written
	invitees := make([]string, 0, len(req.InviteUserIDs))
	seen := map[string]bool{userID: true}
	for _, id := range req.InviteUserIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, err := h.store.GetUserByID(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fail(c, fiber.StatusBadRequest, "Invited user not found: "+id)
			}
			return h.internalError(c, "Failed to create group", err)
		}
		invitees = append(invitees, id)
	}

	now := time.Now().UTC()
	group := &models.Group{
		ID:         uuid.NewString(),
		Name:       req.Name,
		PictureURL: req.PictureURL,
		CreatedBy:  userID,
		CreatedAt:  now,
		Members: []models.GroupMember{
			{UserID: userID, Role: models.RoleAdmin, JoinedAt: now},
		},
	}
	if err := h.store.CreateGroup(ctx, group); err != nil {
		return h.internalError(c, "Failed to create group", err)
	}

	invitations := make([]models.Invitation, 0, len(invitees))
	for _, id := range invitees {
		inv, err := h.invite(c, group, id)
		if err != nil {
			h.log.Warn("failed to invite user", zap.String("group_id", group.ID), zap.String("user_id", id), zap.Error(err))
			continue
		}
		invitations = append(invitations, *inv)
	}

	return success(c, fiber.StatusCreated, fiber.Map{
		"group":       group,
		"invitations": invitations,
	})
}

// GetGroups lists the caller's groups
func (h *Handler) GetGroups(c *fiber.Ctx) error {
	groups, err := h.store.GroupsForUser(c.UserContext(), middleware.GetUserID(c))
	if err != nil {
		return h.internalError(c, "Failed to fetch groups", err)
	}
	if groups == nil {
		groups = []models.Group{}
	}
	return success(c, fiber.StatusOK, groups)
}

// GetGroupDetails returns a group the caller belongs to
func (h *Handler) GetGroupDetails(c *fiber.Ctx) error {
	group, err := h.memberGroup(c)
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, group)
}

// UpdateGroup renames a group or changes its picture. Admins only.
func (h *Handler) UpdateGroup(c *fiber.Ctx) error {
	var req UpdateGroupRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	group, err := h.memberGroup(c)
	if err != nil {
		return err
	}
	if !group.IsAdmin(middleware.GetUserID(c)) {
		return fail(c, fiber.StatusForbidden, "Only admins can update the group")
	}

	updated, err := h.store.UpdateGroup(c.UserContext(), group.ID, models.GroupUpdate{
		Name:       req.Name,
		PictureURL: req.PictureURL,
	})
	if err != nil {
		return h.internalError(c, "Failed to update group", err)
	}
	return success(c, fiber.StatusOK, updated)
}

// RemoveGroupMember removes :userId from the group. Admins may remove anyone;
// members may only remove themselves. The last admin cannot leave while
// other members remain.
func (h *Handler) RemoveGroupMember(c *fiber.Ctx) error {
	group, err := h.memberGroup(c)
	if err != nil {
		return err
	}

	userID := middleware.GetUserID(c)
	targetID := c.Params("userId")
	if targetID != userID && !group.IsAdmin(userID) {
		return fail(c, fiber.StatusForbidden, "Only admins can remove other members")
	}

	target, ok := group.Member(targetID)
	if !ok {
		return fail(c, fiber.StatusNotFound, "User is not a member of this group")
	}
	if target.Role == models.RoleAdmin && len(group.Members) > 1 && adminCount(group) == 1 {
		return fail(c, fiber.StatusBadRequest, "The last admin cannot leave while other members remain")
	}

	err = h.store.RemoveMember(c.UserContext(), group.ID, targetID)
	if errors.Is(err, store.ErrNotFound) {
		return fail(c, fiber.StatusNotFound, "User is not a member of this group")
	}
	if err != nil {
		return h.internalError(c, "Failed to remove member", err)
	}

	return success(c, fiber.StatusOK, fiber.Map{
		"message": "Member removed",
	})
}

// GetGroupMessages returns the group's history, oldest first
func (h *Handler) GetGroupMessages(c *fiber.Ctx) error {
	group, err := h.memberGroup(c)
	if err != nil {
		return err
	}

	messages, err := h.store.GroupMessages(c.UserContext(), group.ID)
	if err != nil {
		return h.internalError(c, "Failed to fetch messages", err)
	}
	if messages == nil {
		messages = []models.GroupMessage{}
	}
	return success(c, fiber.StatusOK, messages)
}

// SendGroupMessage stores a group message and fans it out like the socket does
func (h *Handler) SendGroupMessage(c *fiber.Ctx) error {
	var req SendGroupMessageRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	msg, err := h.router.SendGroup(c.UserContext(), middleware.GetUser(c), &ws.GroupMessageEvent{
		GroupID:   c.Params("id"),
		Content:   req.Content,
		MediaURL:  req.MediaURL,
		MediaType: req.MediaType,
	})
	if err != nil {
		return h.routerError(c, err, "Failed to send message")
	}
	return success(c, fiber.StatusCreated, msg)
}

// MarkGroupRead moves the caller's read marker in the group to now
func (h *Handler) MarkGroupRead(c *fiber.Ctx) error {
	marker, err := h.router.MarkGroupRead(c.UserContext(), middleware.GetUserID(c), c.Params("id"))
	if err != nil {
		return h.routerError(c, err, "Failed to update read status")
	}
	return success(c, fiber.StatusOK, marker)
}

// GetReadMarkers returns every member's read marker in the group
func (h *Handler) GetReadMarkers(c *fiber.Ctx) error {
	group, err := h.memberGroup(c)
	if err != nil {
		return err
	}

	markers, err := h.store.ReadMarkers(c.UserContext(), group.ID)
	if err != nil {
		return h.internalError(c, "Failed to fetch read markers", err)
	}
	if markers == nil {
		markers = []models.GroupReadMarker{}
	}
	return success(c, fiber.StatusOK, markers)
}

// memberGroup loads the :id group and checks that the caller belongs to it.
// The returned error is already rendered for the client.
func (h *Handler) memberGroup(c *fiber.Ctx) (*models.Group, error) {
	group, err := h.store.GetGroup(c.UserContext(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fiber.NewError(fiber.StatusNotFound, "Group not found")
	}
	if err != nil {
		h.log.Error("failed to load group", zap.Error(err))
		return nil, fiber.NewError(fiber.StatusInternalServerError, "Failed to fetch group")
	}
	if !group.IsMember(middleware.GetUserID(c)) {
		return nil, fiber.NewError(fiber.StatusForbidden, "Not a member of this group")
	}
	return group, nil
}

func (h *Handler) routerError(c *fiber.Ctx, err error, fallback string) error {
	switch {
	case errors.Is(err, ws.ErrGroupNotFound):
		return fail(c, fiber.StatusNotFound, "Group not found")
	case errors.Is(err, ws.ErrNotMember):
		return fail(c, fiber.StatusForbidden, "Not a member of this group")
	default:
		return h.internalError(c, fallback, err)
	}
}

func adminCount(g *models.Group) int {
	n := 0
	for _, m := range g.Members {
		if m.Role == models.RoleAdmin {
			n++
		}
	}
	return n
}
