// Package memory is an in-process store.Store. State is lost on restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"getchat/internal/models"
	"getchat/internal/store"
)

type Store struct {
	mu          sync.RWMutex
	users       map[string]*models.User
	messages    map[string]*models.Message
	groups      map[string]*models.Group
	groupMsgs   map[string][]models.GroupMessage
	markers     map[string]map[string]models.GroupReadMarker // group -> user -> marker
	invitations map[string]*models.Invitation
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users:       make(map[string]*models.User),
		messages:    make(map[string]*models.Message),
		groups:      make(map[string]*models.Group),
		groupMsgs:   make(map[string][]models.GroupMessage),
		markers:     make(map[string]map[string]models.GroupReadMarker),
		invitations: make(map[string]*models.Invitation),
	}
}

func (s *Store) Close(context.Context) error { return nil }

func copyUser(u *models.User) *models.User {
	c := *u
	c.SecurityCodes = append([]string(nil), u.SecurityCodes...)
	return &c
}

func copyGroup(g *models.Group) *models.Group {
	c := *g
	c.Members = append([]models.GroupMember(nil), g.Members...)
	return &c
}

// Users

func (s *Store) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Email == u.Email || existing.Username == u.Username {
			return store.ErrDuplicate
		}
	}
	if _, ok := s.users[u.ID]; ok {
		return store.ErrDuplicate
	}
	s.users[u.ID] = copyUser(u)
	return nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyUser(u), nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListUsers(context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, *copyUser(u))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Store) UpdateProfile(_ context.Context, id string, upd models.ProfileUpdate) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if upd.Username != nil && *upd.Username != u.Username {
		for _, other := range s.users {
			if other.Username == *upd.Username {
				return nil, store.ErrDuplicate
			}
		}
		u.Username = *upd.Username
	}
	if upd.Bio != nil {
		u.Bio = *upd.Bio
	}
	if upd.AvatarURL != nil {
		avatar := *upd.AvatarURL
		u.AvatarURL = &avatar
	}
	return copyUser(u), nil
}

func (s *Store) ResetPassword(_ context.Context, email, code, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email != email {
			continue
		}
		for i, c := range u.SecurityCodes {
			if c == code {
				u.SecurityCodes = append(u.SecurityCodes[:i:i], u.SecurityCodes[i+1:]...)
				u.PasswordHash = passwordHash
				return nil
			}
		}
		return store.ErrNotFound
	}
	return store.ErrNotFound
}

func (s *Store) SetPresence(_ context.Context, id string, online bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.IsOnline = online
	u.LastSeen = at
	return nil
}

// Messages

func (s *Store) InsertMessage(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[m.ID]; ok {
		return store.ErrDuplicate
	}
	c := *m
	s.messages[m.ID] = &c
	return nil
}

func (s *Store) Conversation(_ context.Context, a, b string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := []models.Message{}
	for _, m := range s.messages {
		if (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a) {
			msgs = append(msgs, *m)
		}
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp.Before(msgs[j].Timestamp) })
	return msgs, nil
}

func (s *Store) MarkRead(_ context.Context, readerID string, ids []string) ([]models.ReadMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var read []models.ReadMessage
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		m, ok := s.messages[id]
		if !ok || m.ReceiverID != readerID || m.IsRead {
			continue
		}
		m.IsRead = true
		read = append(read, models.ReadMessage{ID: m.ID, SenderID: m.SenderID})
	}
	return read, nil
}

// Groups

func (s *Store) CreateGroup(_ context.Context, g *models.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[g.ID]; ok {
		return store.ErrDuplicate
	}
	s.groups[g.ID] = copyGroup(g)
	return nil
}

func (s *Store) GetGroup(_ context.Context, id string) (*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyGroup(g), nil
}

func (s *Store) GroupsForUser(_ context.Context, userID string) ([]models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := []models.Group{}
	for _, g := range s.groups {
		if g.IsMember(userID) {
			groups = append(groups, *copyGroup(g))
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].CreatedAt.After(groups[j].CreatedAt) })
	return groups, nil
}

func (s *Store) UpdateGroup(_ context.Context, id string, upd models.GroupUpdate) (*models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if upd.Name != nil {
		g.Name = *upd.Name
	}
	if upd.PictureURL != nil {
		picture := *upd.PictureURL
		g.PictureURL = &picture
	}
	return copyGroup(g), nil
}

func (s *Store) AddMember(_ context.Context, groupID string, m models.GroupMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addMemberLocked(groupID, m)
}

func (s *Store) addMemberLocked(groupID string, m models.GroupMember) error {
	g, ok := s.groups[groupID]
	if !ok {
		return store.ErrNotFound
	}
	if g.IsMember(m.UserID) {
		return store.ErrAlreadyMember
	}
	g.Members = append(g.Members, m)
	return nil
}

func (s *Store) RemoveMember(_ context.Context, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return store.ErrNotFound
	}
	for i, m := range g.Members {
		if m.UserID == userID {
			g.Members = append(g.Members[:i:i], g.Members[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) InsertGroupMessage(_ context.Context, m *models.GroupMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[m.GroupID]; !ok {
		return store.ErrNotFound
	}
	s.groupMsgs[m.GroupID] = append(s.groupMsgs[m.GroupID], *m)
	return nil
}

func (s *Store) GroupMessages(_ context.Context, groupID string) ([]models.GroupMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := append([]models.GroupMessage{}, s.groupMsgs[groupID]...)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp.Before(msgs[j].Timestamp) })
	return msgs, nil
}

func (s *Store) UpsertReadMarker(_ context.Context, marker models.GroupReadMarker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byUser, ok := s.markers[marker.GroupID]
	if !ok {
		byUser = make(map[string]models.GroupReadMarker)
		s.markers[marker.GroupID] = byUser
	}
	byUser[marker.UserID] = marker
	return nil
}

func (s *Store) ReadMarkers(_ context.Context, groupID string) ([]models.GroupReadMarker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markers := []models.GroupReadMarker{}
	for _, m := range s.markers[groupID] {
		markers = append(markers, m)
	}
	sort.Slice(markers, func(i, j int) bool { return markers[i].UserID < markers[j].UserID })
	return markers, nil
}

// Invitations

func (s *Store) CreateInvitation(_ context.Context, inv *models.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.invitations {
		if existing.GroupID == inv.GroupID &&
			existing.InvitedUserID == inv.InvitedUserID &&
			existing.Status == models.InvitationPending {
			return store.ErrPendingInvitation
		}
	}
	c := *inv
	s.invitations[inv.ID] = &c
	return nil
}

func (s *Store) GetInvitation(_ context.Context, id string) (*models.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invitations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *inv
	return &c, nil
}

func (s *Store) PendingInvitations(_ context.Context, userID string) ([]models.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invs := []models.Invitation{}
	for _, inv := range s.invitations {
		if inv.InvitedUserID == userID && inv.Status == models.InvitationPending {
			invs = append(invs, *inv)
		}
	}
	sort.Slice(invs, func(i, j int) bool { return invs[i].CreatedAt.Before(invs[j].CreatedAt) })
	return invs, nil
}

func (s *Store) RespondInvitation(_ context.Context, id string, status models.InvitationStatus, at time.Time) (*models.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invitations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if inv.Status != models.InvitationPending {
		return nil, store.ErrInvitationClosed
	}

	if status == models.InvitationAccepted {
		err := s.addMemberLocked(inv.GroupID, models.GroupMember{
			UserID:   inv.InvitedUserID,
			Role:     models.RoleMember,
			JoinedAt: at,
		})
		if err != nil && err != store.ErrAlreadyMember {
			return nil, err
		}
	}

	inv.Status = status
	inv.UpdatedAt = at
	c := *inv
	return &c, nil
}
