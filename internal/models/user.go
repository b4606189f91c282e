package models

import "time"

// User represents a registered account
type User struct {
	ID            string    `json:"id" db:"id" bson:"_id"`
	Username      string    `json:"username" db:"username" bson:"username"`
	Email         string    `json:"email" db:"email" bson:"email"`
	PasswordHash  string    `json:"-" db:"password_hash" bson:"password_hash"` // Never expose in JSON
	SecurityCodes []string  `json:"-" db:"security_codes" bson:"security_codes"`
	Bio           string    `json:"bio" db:"bio" bson:"bio"`
	AvatarURL     *string   `json:"avatar_url,omitempty" db:"avatar_url" bson:"avatar_url,omitempty"`
	IsOnline      bool      `json:"is_online" db:"is_online" bson:"is_online"`
	LastSeen      time.Time `json:"last_seen" db:"last_seen" bson:"last_seen"`
	CreatedAt     time.Time `json:"created_at" db:"created_at" bson:"created_at"`
}

// UserResponse is what we send to clients (without sensitive data)
type UserResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Bio       string    `json:"bio"`
	AvatarURL *string   `json:"avatar_url,omitempty"`
	IsOnline  bool      `json:"is_online"`
	LastSeen  time.Time `json:"last_seen"`
	CreatedAt time.Time `json:"created_at"`
}

// ToResponse converts User to UserResponse
func (u *User) ToResponse() UserResponse {
	return UserResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Bio:       u.Bio,
		AvatarURL: u.AvatarURL,
		IsOnline:  u.IsOnline,
		LastSeen:  u.LastSeen,
		CreatedAt: u.CreatedAt,
	}
}

// ProfileUpdate holds the optional fields of a profile edit
type ProfileUpdate struct {
	Username  *string
	Bio       *string
	AvatarURL *string
}
