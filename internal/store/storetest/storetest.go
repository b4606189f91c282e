// Package storetest holds the behaviour every store.Store driver must share.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"getchat/internal/models"
	"getchat/internal/store"

	"github.com/google/uuid"
)

// Factory returns an empty store for one sub-test.
type Factory func(t *testing.T) store.Store

// Run executes the contract suite against the driver built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("UserUniqueness", func(t *testing.T) { testUserUniqueness(t, newStore(t)) })
	t.Run("ResetPasswordConsumesCode", func(t *testing.T) { testResetPassword(t, newStore(t)) })
	t.Run("ConversationOrder", func(t *testing.T) { testConversationOrder(t, newStore(t)) })
	t.Run("MarkReadOnlyReceiver", func(t *testing.T) { testMarkRead(t, newStore(t)) })
	t.Run("GroupMembership", func(t *testing.T) { testGroupMembership(t, newStore(t)) })
	t.Run("ReadMarkerUpsert", func(t *testing.T) { testReadMarker(t, newStore(t)) })
	t.Run("InvitationLifecycle", func(t *testing.T) { testInvitations(t, newStore(t)) })
}

func newUser(name string) *models.User {
	return &models.User{
		ID:            uuid.NewString(),
		Username:      name,
		Email:         name + "@example.com",
		PasswordHash:  "hash",
		SecurityCodes: []string{"aaaa1111", "bbbb2222", "cccc3333"},
		LastSeen:      time.Now().UTC(),
		CreatedAt:     time.Now().UTC(),
	}
}

// MustUser creates and stores a user.
func MustUser(t *testing.T, s store.Store, name string) *models.User {
	t.Helper()
	u := newUser(name)
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser(%s) failed: %v", name, err)
	}
	return u
}

// MustGroup creates a group whose creator is admin and whose other members are plain members.
func MustGroup(t *testing.T, s store.Store, name string, admin string, members ...string) *models.Group {
	t.Helper()
	now := time.Now().UTC()
	g := &models.Group{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedBy: admin,
		CreatedAt: now,
		Members:   []models.GroupMember{{UserID: admin, Role: models.RoleAdmin, JoinedAt: now}},
	}
	for _, m := range members {
		g.Members = append(g.Members, models.GroupMember{UserID: m, Role: models.RoleMember, JoinedAt: now})
	}
	if err := s.CreateGroup(context.Background(), g); err != nil {
		t.Fatalf("CreateGroup(%s) failed: %v", name, err)
	}
	return g
}

func testUserUniqueness(t *testing.T, s store.Store) {
	ctx := context.Background()
	alice := MustUser(t, s, "alice")

	dup := newUser("alice")
	if err := s.CreateUser(ctx, dup); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for same email, got %v", err)
	}

	got, err := s.GetUserByEmail(ctx, alice.Email)
	if err != nil {
		t.Fatalf("GetUserByEmail failed: %v", err)
	}
	if got.ID != alice.ID {
		t.Errorf("expected id %s, got %s", alice.ID, got.ID)
	}

	if _, err := s.GetUserByID(ctx, uuid.NewString()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func testResetPassword(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := MustUser(t, s, "bob")

	if err := s.ResetPassword(ctx, u.Email, "wrong", "new"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for bad code, got %v", err)
	}
	if err := s.ResetPassword(ctx, u.Email, "bbbb2222", "new"); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}
	if err := s.ResetPassword(ctx, u.Email, "bbbb2222", "newer"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected used code to be rejected, got %v", err)
	}

	got, _ := s.GetUserByID(ctx, u.ID)
	if got.PasswordHash != "new" {
		t.Errorf("expected password hash to be replaced, got %q", got.PasswordHash)
	}
	if len(got.SecurityCodes) != 2 {
		t.Errorf("expected 2 remaining codes, got %d", len(got.SecurityCodes))
	}
}

func testConversationOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := MustUser(t, s, "carol")
	b := MustUser(t, s, "dave")
	c := MustUser(t, s, "erin")

	base := time.Now().UTC().Truncate(time.Millisecond)
	insert := func(from, to string, offset time.Duration, content string) {
		m := &models.Message{
			ID:         uuid.NewString(),
			SenderID:   from,
			ReceiverID: to,
			Content:    content,
			Timestamp:  base.Add(offset),
		}
		if err := s.InsertMessage(ctx, m); err != nil {
			t.Fatalf("InsertMessage failed: %v", err)
		}
	}
	insert(a.ID, b.ID, 2*time.Second, "second")
	insert(b.ID, a.ID, 1*time.Second, "first")
	insert(a.ID, c.ID, 0, "elsewhere")

	msgs, err := s.Conversation(ctx, a.ID, b.ID)
	if err != nil {
		t.Fatalf("Conversation failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "first" || msgs[1].Content != "second" {
		t.Errorf("expected ascending order, got %q then %q", msgs[0].Content, msgs[1].Content)
	}
	if msgs[0].IsRead {
		t.Error("new messages must be unread")
	}
}

func testMarkRead(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := MustUser(t, s, "frank")
	b := MustUser(t, s, "grace")

	toB := &models.Message{ID: uuid.NewString(), SenderID: a.ID, ReceiverID: b.ID, Content: "m1", Timestamp: time.Now().UTC()}
	toA := &models.Message{ID: uuid.NewString(), SenderID: b.ID, ReceiverID: a.ID, Content: "m2", Timestamp: time.Now().UTC()}
	for _, m := range []*models.Message{toB, toA} {
		if err := s.InsertMessage(ctx, m); err != nil {
			t.Fatalf("InsertMessage failed: %v", err)
		}
	}

	read, err := s.MarkRead(ctx, b.ID, []string{toB.ID, toA.ID})
	if err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if len(read) != 1 || read[0].ID != toB.ID || read[0].SenderID != a.ID {
		t.Fatalf("expected only %s to be read, got %+v", toB.ID, read)
	}

	again, err := s.MarkRead(ctx, b.ID, []string{toB.ID})
	if err != nil {
		t.Fatalf("MarkRead (again) failed: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("expected no newly read messages, got %d", len(again))
	}

	msgs, _ := s.Conversation(ctx, a.ID, b.ID)
	for _, m := range msgs {
		if m.ID == toA.ID && m.IsRead {
			t.Error("message not owned by the reader was marked read")
		}
		if m.ID == toB.ID && !m.IsRead {
			t.Error("message owned by the reader was not marked read")
		}
	}
}

func testGroupMembership(t *testing.T, s store.Store) {
	ctx := context.Background()
	admin := MustUser(t, s, "heidi")
	other := MustUser(t, s, "ivan")
	g := MustGroup(t, s, "team", admin.ID)

	got, err := s.GetGroup(ctx, g.ID)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	if !got.IsAdmin(admin.ID) {
		t.Fatal("creator must be admin")
	}

	member := models.GroupMember{UserID: other.ID, Role: models.RoleMember, JoinedAt: time.Now().UTC()}
	if err := s.AddMember(ctx, g.ID, member); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}
	if err := s.AddMember(ctx, g.ID, member); !errors.Is(err, store.ErrAlreadyMember) {
		t.Fatalf("expected ErrAlreadyMember, got %v", err)
	}

	groups, err := s.GroupsForUser(ctx, other.ID)
	if err != nil {
		t.Fatalf("GroupsForUser failed: %v", err)
	}
	if len(groups) != 1 || groups[0].ID != g.ID {
		t.Fatalf("expected membership in %s, got %+v", g.ID, groups)
	}

	name := "renamed"
	updated, err := s.UpdateGroup(ctx, g.ID, models.GroupUpdate{Name: &name})
	if err != nil {
		t.Fatalf("UpdateGroup failed: %v", err)
	}
	if updated.Name != name || len(updated.Members) != 2 {
		t.Errorf("unexpected group after update: %+v", updated)
	}

	if err := s.RemoveMember(ctx, g.ID, other.ID); err != nil {
		t.Fatalf("RemoveMember failed: %v", err)
	}
	got, _ = s.GetGroup(ctx, g.ID)
	if got.IsMember(other.ID) {
		t.Error("removed user is still a member")
	}
}

func testReadMarker(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := MustUser(t, s, "judy")
	g := MustGroup(t, s, "watchers", u.ID)

	first := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)
	second := first.Add(30 * time.Second)
	for _, ts := range []time.Time{first, second} {
		if err := s.UpsertReadMarker(ctx, models.GroupReadMarker{GroupID: g.ID, UserID: u.ID, Timestamp: ts}); err != nil {
			t.Fatalf("UpsertReadMarker failed: %v", err)
		}
	}

	markers, err := s.ReadMarkers(ctx, g.ID)
	if err != nil {
		t.Fatalf("ReadMarkers failed: %v", err)
	}
	if len(markers) != 1 {
		t.Fatalf("expected one marker per (group, user), got %d", len(markers))
	}
	if !markers[0].Timestamp.Equal(second) {
		t.Errorf("expected watermark %v, got %v", second, markers[0].Timestamp)
	}
}

func testInvitations(t *testing.T, s store.Store) {
	ctx := context.Background()
	admin := MustUser(t, s, "mallory")
	guest := MustUser(t, s, "niaj")
	g := MustGroup(t, s, "club", admin.ID)

	now := time.Now().UTC()
	inv := &models.Invitation{
		ID:            uuid.NewString(),
		GroupID:       g.ID,
		InvitedUserID: guest.ID,
		InvitedBy:     admin.ID,
		Status:        models.InvitationPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.CreateInvitation(ctx, inv); err != nil {
		t.Fatalf("CreateInvitation failed: %v", err)
	}

	dup := *inv
	dup.ID = uuid.NewString()
	if err := s.CreateInvitation(ctx, &dup); !errors.Is(err, store.ErrPendingInvitation) {
		t.Fatalf("expected ErrPendingInvitation, got %v", err)
	}

	pending, err := s.PendingInvitations(ctx, guest.ID)
	if err != nil {
		t.Fatalf("PendingInvitations failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending invitation, got %d", len(pending))
	}

	accepted, err := s.RespondInvitation(ctx, inv.ID, models.InvitationAccepted, time.Now().UTC())
	if err != nil {
		t.Fatalf("RespondInvitation failed: %v", err)
	}
	if accepted.Status != models.InvitationAccepted {
		t.Errorf("expected accepted, got %s", accepted.Status)
	}

	group, _ := s.GetGroup(ctx, g.ID)
	m, ok := group.Member(guest.ID)
	if !ok || m.Role != models.RoleMember {
		t.Fatalf("accepted user must join as member, got %+v (ok=%v)", m, ok)
	}

	if _, err := s.RespondInvitation(ctx, inv.ID, models.InvitationRejected, time.Now().UTC()); !errors.Is(err, store.ErrInvitationClosed) {
		t.Fatalf("expected ErrInvitationClosed, got %v", err)
	}

	// A closed invitation no longer blocks a new pending one.
	again := *inv
	again.ID = uuid.NewString()
	if err := s.CreateInvitation(ctx, &again); err != nil {
		t.Fatalf("expected new invitation after close, got %v", err)
	}
}
