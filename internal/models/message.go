package models

import "time"

// MediaType is the kind of an attachment
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// Valid reports whether m is a supported attachment kind
func (m MediaType) Valid() bool {
	return m == MediaImage || m == MediaVideo
}

// Message represents a direct message between two users
type Message struct {
	ID         string     `json:"id" db:"id" bson:"_id"`
	SenderID   string     `json:"sender_id" db:"sender_id" bson:"sender_id"`
	ReceiverID string     `json:"receiver_id" db:"receiver_id" bson:"receiver_id"`
	Content    string     `json:"content" db:"content" bson:"content"`
	MediaURL   *string    `json:"media_url,omitempty" db:"media_url" bson:"media_url,omitempty"`
	MediaType  *MediaType `json:"media_type,omitempty" db:"media_type" bson:"media_type,omitempty"`
	Timestamp  time.Time  `json:"timestamp" db:"timestamp" bson:"timestamp"`
	IsRead     bool       `json:"is_read" db:"is_read" bson:"is_read"` // false -> true only
}

// GroupMessage is a message scoped to a group. Read state lives in GroupReadMarker.
type GroupMessage struct {
	ID        string     `json:"id" db:"id" bson:"_id"`
	GroupID   string     `json:"group_id" db:"group_id" bson:"group_id"`
	SenderID  string     `json:"sender_id" db:"sender_id" bson:"sender_id"`
	Content   string     `json:"content" db:"content" bson:"content"`
	MediaURL  *string    `json:"media_url,omitempty" db:"media_url" bson:"media_url,omitempty"`
	MediaType *MediaType `json:"media_type,omitempty" db:"media_type" bson:"media_type,omitempty"`
	Timestamp time.Time  `json:"timestamp" db:"timestamp" bson:"timestamp"`
	IsRead    bool       `json:"is_read" db:"is_read" bson:"is_read"`
}

// ReadMessage identifies a direct message that was just marked read
type ReadMessage struct {
	ID       string
	SenderID string
}
