package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"getchat/internal/models"
	"getchat/internal/store"
	"getchat/internal/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrGroupNotFound        = errors.New("group not found")
	ErrNotMember            = errors.New("not a member of this group")
	ErrAlreadyAuthenticated = errors.New("already authenticated")
)

// Router persists inbound events and fans them out to the live connections
// that should see them. Every event is stored before anything is pushed.
type Router struct {
	store    store.Store
	registry *Registry
	log      *zap.Logger
	now      func() time.Time
}

func NewRouter(s store.Store, registry *Registry, log *zap.Logger) *Router {
	return &Router{
		store:    s,
		registry: registry,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handle dispatches one event from an authenticated connection. Failures are
// reported to that connection only; the connection stays open.
func (r *Router) Handle(ctx context.Context, c *Client, sender *models.User, ev Event) {
	var err error
	fallback := "Failed to process event"

	switch e := ev.(type) {
	case *DirectMessageEvent:
		_, err = r.SendDirect(ctx, sender, e)
		fallback = "Failed to send message"
	case *GroupMessageEvent:
		_, err = r.SendGroup(ctx, sender, e)
		fallback = "Failed to send message"
	case *ReadStatusEvent:
		_, err = r.MarkRead(ctx, sender.ID, e.MessageIDs)
		fallback = "Failed to update read status"
	case *GroupReadStatusEvent:
		_, err = r.MarkGroupRead(ctx, sender.ID, e.GroupID)
		fallback = "Failed to update read status"
	case *AuthenticateEvent:
		err = ErrAlreadyAuthenticated
	default:
		err = fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}

	if err == nil {
		return
	}

	message := fallback
	switch {
	case errors.Is(err, ErrNotMember):
		message = "Not a member of this group"
	case errors.Is(err, ErrGroupNotFound):
		message = "Group not found"
	case errors.Is(err, ErrAlreadyAuthenticated):
		message = "Already authenticated"
	case errors.Is(err, ErrUnknownEvent):
		message = "Unknown event type"
	default:
		r.log.Error("event failed", zap.String("user_id", sender.ID), zap.String("type", string(ev.Type())), zap.Error(err))
	}
	r.registry.SendTo(c, encodeError(message))
}

// SendDirect stores a direct message, echoes it to the sender, delivers it
// to the receiver and notifies the receiver.
func (r *Router) SendDirect(ctx context.Context, sender *models.User, ev *DirectMessageEvent) (*models.Message, error) {
	msg := &models.Message{
		ID:         uuid.NewString(),
		SenderID:   sender.ID,
		ReceiverID: ev.ReceiverID,
		Content:    ev.Content,
		MediaURL:   ev.MediaURL,
		MediaType:  ev.MediaType,
		Timestamp:  r.now(),
		IsRead:     false,
	}
	if err := r.store.InsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	frame := r.encode(NewMessageFrame(msg))
	r.registry.Send(msg.ReceiverID, frame)
	if msg.SenderID != msg.ReceiverID {
		r.registry.Send(msg.SenderID, frame)
		r.registry.Send(msg.ReceiverID, r.encode(notification(sender, msg.ID, msg.Content, msg.MediaURL, msg.MediaType, msg.Timestamp)))
	}
	return msg, nil
}

// SendGroup stores a group message from a current member and delivers it to
// every member, with a notification for everyone but the sender.
func (r *Router) SendGroup(ctx context.Context, sender *models.User, ev *GroupMessageEvent) (*models.GroupMessage, error) {
	group, err := r.memberGroup(ctx, ev.GroupID, sender.ID)
	if err != nil {
		return nil, err
	}

	msg := &models.GroupMessage{
		ID:        uuid.NewString(),
		GroupID:   group.ID,
		SenderID:  sender.ID,
		Content:   ev.Content,
		MediaURL:  ev.MediaURL,
		MediaType: ev.MediaType,
		Timestamp: r.now(),
		IsRead:    false,
	}
	if err := r.store.InsertGroupMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist group message: %w", err)
	}

	frame := r.encode(NewGroupMessageFrame(msg))
	note := notification(sender, msg.ID, msg.Content, msg.MediaURL, msg.MediaType, msg.Timestamp)
	note.GroupID = group.ID
	note.GroupName = group.Name
	noteFrame := r.encode(note)

	for _, memberID := range group.MemberIDs() {
		r.registry.Send(memberID, frame)
		if memberID != sender.ID {
			r.registry.Send(memberID, noteFrame)
		}
	}
	return msg, nil
}

// MarkRead flips the read flag of the reader's messages among ids and tells
// each distinct original sender once.
func (r *Router) MarkRead(ctx context.Context, readerID string, ids []string) ([]models.ReadMessage, error) {
	read, err := r.store.MarkRead(ctx, readerID, ids)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}

	var senders []string
	bySender := make(map[string][]string)
	for _, m := range read {
		if _, ok := bySender[m.SenderID]; !ok {
			senders = append(senders, m.SenderID)
		}
		bySender[m.SenderID] = append(bySender[m.SenderID], m.ID)
	}

	for _, senderID := range senders {
		ids := bySender[senderID]
		r.registry.Send(senderID, r.encode(ReadStatusFrame{
			Type:       EventReadStatus,
			MessageID:  ids[0],
			MessageIDs: ids,
			ReaderID:   readerID,
		}))
	}
	return read, nil
}

// MarkGroupRead moves the reader's watermark in the group to now and tells
// the other members.
func (r *Router) MarkGroupRead(ctx context.Context, readerID, groupID string) (*models.GroupReadMarker, error) {
	group, err := r.memberGroup(ctx, groupID, readerID)
	if err != nil {
		return nil, err
	}

	marker := models.GroupReadMarker{GroupID: group.ID, UserID: readerID, Timestamp: r.now()}
	if err := r.store.UpsertReadMarker(ctx, marker); err != nil {
		return nil, fmt.Errorf("upsert read marker: %w", err)
	}

	frame := r.encode(GroupReadStatusFrame{
		Type:      EventGroupReadStatus,
		GroupID:   group.ID,
		ReaderID:  readerID,
		Timestamp: marker.Timestamp,
	})
	for _, memberID := range group.MemberIDs() {
		if memberID != readerID {
			r.registry.Send(memberID, frame)
		}
	}
	return &marker, nil
}

// PushInvitation tells an online invitee about a new invitation
func (r *Router) PushInvitation(inv *models.Invitation, groupName string) bool {
	return r.registry.Send(inv.InvitedUserID, r.encode(GroupInvitationFrame{
		Type:         EventGroupInvitation,
		InvitationID: inv.ID,
		GroupID:      inv.GroupID,
		GroupName:    groupName,
		InvitedBy:    inv.InvitedBy,
		CreatedAt:    inv.CreatedAt,
	}))
}

// memberGroup loads the group and checks membership against the stored
// state, never a cached copy.
func (r *Router) memberGroup(ctx context.Context, groupID, userID string) (*models.Group, error) {
	group, err := r.store.GetGroup(ctx, groupID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load group: %w", err)
	}
	if !group.IsMember(userID) {
		return nil, ErrNotMember
	}
	return group, nil
}

func (r *Router) encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		r.log.Error("failed to marshal frame", zap.Error(err))
	}
	return data
}

func notification(sender *models.User, messageID, content string, mediaURL *string, mediaType *models.MediaType, ts time.Time) NotificationFrame {
	return NotificationFrame{
		Type:           EventNotification,
		MessageID:      messageID,
		SenderID:       sender.ID,
		SenderUsername: sender.Username,
		Content:        utils.Truncate(content, NotificationPreviewLength),
		HasMedia:       mediaURL != nil,
		MediaType:      mediaType,
		Timestamp:      ts,
	}
}
