package models

import "time"

// InvitationStatus is the lifecycle state of a group invitation
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationRejected InvitationStatus = "rejected"
)

// Invitation asks a user to join a group.
// At most one pending invitation exists per (GroupID, InvitedUserID).
type Invitation struct {
	ID            string           `json:"id" db:"id" bson:"_id"`
	GroupID       string           `json:"group_id" db:"group_id" bson:"group_id"`
	InvitedUserID string           `json:"invited_user_id" db:"invited_user_id" bson:"invited_user_id"`
	InvitedBy     string           `json:"invited_by" db:"invited_by" bson:"invited_by"`
	Status        InvitationStatus `json:"status" db:"status" bson:"status"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at" bson:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at" db:"updated_at" bson:"updated_at"`
}
