package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"getchat/internal/models"

	"github.com/go-playground/validator/v10"
)

// EventType is the "type" discriminator shared by every frame
type EventType string

const (
	// Client -> server
	EventAuthenticate    EventType = "authenticate"
	EventMessage         EventType = "message"
	EventGroupMessage    EventType = "group_message"
	EventReadStatus      EventType = "read_status"
	EventGroupReadStatus EventType = "group_read_status"

	// Server -> client only
	EventNotification    EventType = "notification"
	EventUserStatus      EventType = "user_status"
	EventGroupInvitation EventType = "group_invitation"
	EventError           EventType = "error"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// NotificationPreviewLength is the number of runes kept in notification content.
const NotificationPreviewLength = 50

var (
	// ErrMalformedFrame means the frame is not a JSON object with a type.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnknownEvent means the type is not one a client may send.
	ErrUnknownEvent = errors.New("unknown event type")
	// ErrInvalidPayload means the type is known but its fields are not.
	ErrInvalidPayload = errors.New("invalid event payload")
)

var validate = validator.New()

// Event is a decoded client frame. The concrete type is one of the *Event
// structs below.
type Event interface {
	Type() EventType
}

type AuthenticateEvent struct {
	Token string `json:"token" validate:"required"`
}

type DirectMessageEvent struct {
	ReceiverID string            `json:"receiver_id" validate:"required"`
	Content    string            `json:"content"`
	MediaURL   *string           `json:"media_url,omitempty"`
	MediaType  *models.MediaType `json:"media_type,omitempty" validate:"omitempty,oneof=image video"`
}

type GroupMessageEvent struct {
	GroupID   string            `json:"group_id" validate:"required"`
	Content   string            `json:"content"`
	MediaURL  *string           `json:"media_url,omitempty"`
	MediaType *models.MediaType `json:"media_type,omitempty" validate:"omitempty,oneof=image video"`
}

type ReadStatusEvent struct {
	MessageIDs []string `json:"message_ids" validate:"required,min=1,dive,required"`
}

type GroupReadStatusEvent struct {
	GroupID string `json:"group_id" validate:"required"`
}

func (*AuthenticateEvent) Type() EventType    { return EventAuthenticate }
func (*DirectMessageEvent) Type() EventType   { return EventMessage }
func (*GroupMessageEvent) Type() EventType    { return EventGroupMessage }
func (*ReadStatusEvent) Type() EventType      { return EventReadStatus }
func (*GroupReadStatusEvent) Type() EventType { return EventGroupReadStatus }

// DecodeEvent parses one client frame into its concrete event.
func DecodeEvent(data []byte) (Event, error) {
	var envelope struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var ev Event
	switch envelope.Type {
	case EventAuthenticate:
		ev = &AuthenticateEvent{}
	case EventMessage:
		ev = &DirectMessageEvent{}
	case EventGroupMessage:
		ev = &GroupMessageEvent{}
	case EventReadStatus:
		ev = &ReadStatusEvent{}
	case EventGroupReadStatus:
		ev = &GroupReadStatusEvent{}
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, envelope.Type)
	}

	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validate.Struct(ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return ev, nil
}

// MessageFrame carries a direct message to its sender and receiver
type MessageFrame struct {
	Type       EventType         `json:"type"`
	ID         string            `json:"id"`
	SenderID   string            `json:"sender_id"`
	ReceiverID string            `json:"receiver_id"`
	Content    string            `json:"content"`
	Timestamp  time.Time         `json:"timestamp"`
	IsRead     bool              `json:"is_read"`
	MediaURL   *string           `json:"media_url,omitempty"`
	MediaType  *models.MediaType `json:"media_type,omitempty"`
}

func NewMessageFrame(m *models.Message) MessageFrame {
	return MessageFrame{
		Type:       EventMessage,
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Timestamp:  m.Timestamp,
		IsRead:     m.IsRead,
		MediaURL:   m.MediaURL,
		MediaType:  m.MediaType,
	}
}

// GroupMessageFrame carries a group message to every member
type GroupMessageFrame struct {
	Type      EventType         `json:"type"`
	ID        string            `json:"id"`
	GroupID   string            `json:"group_id"`
	SenderID  string            `json:"sender_id"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	IsRead    bool              `json:"is_read"`
	MediaURL  *string           `json:"media_url,omitempty"`
	MediaType *models.MediaType `json:"media_type,omitempty"`
}

func NewGroupMessageFrame(m *models.GroupMessage) GroupMessageFrame {
	return GroupMessageFrame{
		Type:      EventGroupMessage,
		ID:        m.ID,
		GroupID:   m.GroupID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
		IsRead:    m.IsRead,
		MediaURL:  m.MediaURL,
		MediaType: m.MediaType,
	}
}

// NotificationFrame is the short alert shown to recipients other than the sender
type NotificationFrame struct {
	Type           EventType         `json:"type"`
	MessageID      string            `json:"message_id"`
	SenderID       string            `json:"sender_id"`
	SenderUsername string            `json:"sender_username"`
	GroupID        string            `json:"group_id,omitempty"`
	GroupName      string            `json:"group_name,omitempty"`
	Content        string            `json:"content"`
	HasMedia       bool              `json:"has_media"`
	MediaType      *models.MediaType `json:"media_type"`
	Timestamp      time.Time         `json:"timestamp"`
}

// ReadStatusFrame tells a sender which of their messages were read.
// MessageID repeats the first entry of MessageIDs for older clients.
type ReadStatusFrame struct {
	Type       EventType `json:"type"`
	MessageID  string    `json:"message_id"`
	MessageIDs []string  `json:"message_ids"`
	ReaderID   string    `json:"reader_id"`
}

type GroupReadStatusFrame struct {
	Type      EventType `json:"type"`
	GroupID   string    `json:"group_id"`
	ReaderID  string    `json:"reader_id"`
	Timestamp time.Time `json:"timestamp"`
}

type UserStatusFrame struct {
	Type   EventType `json:"type"`
	UserID string    `json:"user_id"`
	Status string    `json:"status"`
}

type GroupInvitationFrame struct {
	Type         EventType `json:"type"`
	InvitationID string    `json:"invitation_id"`
	GroupID      string    `json:"group_id"`
	GroupName    string    `json:"group_name"`
	InvitedBy    string    `json:"invited_by"`
	CreatedAt    time.Time `json:"created_at"`
}

type ErrorFrame struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}

func encodeError(message string) []byte {
	data, _ := json.Marshal(ErrorFrame{Type: EventError, Message: message})
	return data
}
