package models

import "time"

// Role of a user inside a group
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Group represents a chat group. Members is a set keyed by UserID.
type Group struct {
	ID         string        `json:"id" db:"id" bson:"_id"`
	Name       string        `json:"name" db:"name" bson:"name"`
	PictureURL *string       `json:"picture_url,omitempty" db:"picture_url" bson:"picture_url,omitempty"`
	CreatedBy  string        `json:"created_by" db:"created_by" bson:"created_by"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at" bson:"created_at"`
	Members    []GroupMember `json:"members" bson:"members"`
}

// GroupMember represents a user's membership in a group
type GroupMember struct {
	UserID   string    `json:"user_id" db:"user_id" bson:"user_id"`
	Role     Role      `json:"role" db:"role" bson:"role"`
	JoinedAt time.Time `json:"joined_at" db:"joined_at" bson:"joined_at"`
}

// Member returns the membership of userID, if any
func (g *Group) Member(userID string) (GroupMember, bool) {
	for _, m := range g.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return GroupMember{}, false
}

// IsMember reports whether userID currently belongs to the group
func (g *Group) IsMember(userID string) bool {
	_, ok := g.Member(userID)
	return ok
}

// IsAdmin reports whether userID is an admin of the group
func (g *Group) IsAdmin(userID string) bool {
	m, ok := g.Member(userID)
	return ok && m.Role == RoleAdmin
}

// MemberIDs returns the ids of all members
func (g *Group) MemberIDs() []string {
	ids := make([]string, 0, len(g.Members))
	for _, m := range g.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// GroupUpdate holds the optional fields of an admin edit
type GroupUpdate struct {
	Name       *string
	PictureURL *string
}

// GroupReadMarker is the read watermark of one user in one group
type GroupReadMarker struct {
	GroupID   string    `json:"group_id" db:"group_id" bson:"group_id"`
	UserID    string    `json:"user_id" db:"user_id" bson:"user_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp" bson:"timestamp"`
}
