// Package store defines the persistence contract shared by every driver.
package store

import (
	"context"
	"errors"
	"time"

	"getchat/internal/models"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicate         = errors.New("already exists")
	ErrAlreadyMember     = errors.New("user is already a member")
	ErrPendingInvitation = errors.New("a pending invitation already exists")
	ErrInvitationClosed  = errors.New("invitation is no longer pending")
)

// Users is the account part of the store.
type Users interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	UpdateProfile(ctx context.Context, id string, upd models.ProfileUpdate) (*models.User, error)
	// ResetPassword swaps the password hash and consumes code in one step.
	// ErrNotFound is returned when the code does not belong to the user.
	ResetPassword(ctx context.Context, email, code, passwordHash string) error
	SetPresence(ctx context.Context, id string, online bool, at time.Time) error
}

// Messages stores direct messages.
type Messages interface {
	InsertMessage(ctx context.Context, m *models.Message) error
	// Conversation returns messages exchanged between a and b, oldest first.
	Conversation(ctx context.Context, a, b string) ([]models.Message, error)
	// MarkRead flips is_read for the given ids whose receiver is readerID and
	// that were still unread, returning exactly those messages.
	MarkRead(ctx context.Context, readerID string, ids []string) ([]models.ReadMessage, error)
}

// Groups stores groups, their messages and read markers.
type Groups interface {
	CreateGroup(ctx context.Context, g *models.Group) error
	GetGroup(ctx context.Context, id string) (*models.Group, error)
	GroupsForUser(ctx context.Context, userID string) ([]models.Group, error)
	UpdateGroup(ctx context.Context, id string, upd models.GroupUpdate) (*models.Group, error)
	AddMember(ctx context.Context, groupID string, m models.GroupMember) error
	RemoveMember(ctx context.Context, groupID, userID string) error

	InsertGroupMessage(ctx context.Context, m *models.GroupMessage) error
	GroupMessages(ctx context.Context, groupID string) ([]models.GroupMessage, error)

	UpsertReadMarker(ctx context.Context, marker models.GroupReadMarker) error
	ReadMarkers(ctx context.Context, groupID string) ([]models.GroupReadMarker, error)
}

// Invitations stores group invitations.
type Invitations interface {
	// CreateInvitation returns ErrPendingInvitation if one is already pending.
	CreateInvitation(ctx context.Context, inv *models.Invitation) error
	GetInvitation(ctx context.Context, id string) (*models.Invitation, error)
	PendingInvitations(ctx context.Context, userID string) ([]models.Invitation, error)
	// RespondInvitation moves a pending invitation to status. Accepting also
	// adds the invited user to the group as a member.
	RespondInvitation(ctx context.Context, id string, status models.InvitationStatus, at time.Time) (*models.Invitation, error)
}

// Store is the full persistence contract.
type Store interface {
	Users
	Messages
	Groups
	Invitations
	Close(ctx context.Context) error
}
