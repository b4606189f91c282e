package websocket

import (
	"context"
	"errors"
	"strings"
	"testing"

	"getchat/internal/models"
	"getchat/internal/store/memory"
	"getchat/internal/store/storetest"

	"go.uber.org/zap"
)

type routerFixture struct {
	store    *memory.Store
	registry *Registry
	router   *Router
}

func newRouterFixture() *routerFixture {
	s := memory.New()
	reg := NewRegistry(zap.NewNop())
	return &routerFixture{store: s, registry: reg, router: NewRouter(s, reg, zap.NewNop())}
}

func (f *routerFixture) connect(u *models.User) *Client {
	c, _ := newTestClient(u.ID, 32)
	f.registry.Bind(u.ID, c)
	return c
}

func TestDirectMessageBothConnected(t *testing.T) {
	f := newRouterFixture()
	alice := storetest.MustUser(t, f.store, "alice")
	bob := storetest.MustUser(t, f.store, "bob")
	aliceConn := f.connect(alice)
	bobConn := f.connect(bob)

	f.router.Handle(context.Background(), aliceConn, alice, &DirectMessageEvent{ReceiverID: bob.ID, Content: "hi"})

	got := queued(t, bobConn)
	if got["type"] != "message" || got["sender_id"] != alice.ID || got["receiver_id"] != bob.ID || got["content"] != "hi" || got["is_read"] != false {
		t.Errorf("unexpected message frame for receiver: %v", got)
	}
	note := queued(t, bobConn)
	if note["type"] != "notification" || note["sender_username"] != "alice" || note["message_id"] != got["id"] {
		t.Errorf("unexpected notification: %v", note)
	}
	noneQueued(t, bobConn)

	echo := queued(t, aliceConn)
	if echo["type"] != "message" || echo["id"] != got["id"] {
		t.Errorf("unexpected echo: %v", echo)
	}
	noneQueued(t, aliceConn)

	msgs, _ := f.store.Conversation(context.Background(), alice.ID, bob.ID)
	if len(msgs) != 1 || msgs[0].IsRead {
		t.Fatalf("expected one unread stored message, got %+v", msgs)
	}
}

func TestDirectMessageReceiverOffline(t *testing.T) {
	f := newRouterFixture()
	alice := storetest.MustUser(t, f.store, "alice")
	bob := storetest.MustUser(t, f.store, "bob")
	aliceConn := f.connect(alice)

	msg, err := f.router.SendDirect(context.Background(), alice, &DirectMessageEvent{ReceiverID: bob.ID, Content: "later"})
	if err != nil {
		t.Fatalf("SendDirect failed: %v", err)
	}

	if echo := queued(t, aliceConn); echo["id"] != msg.ID {
		t.Errorf("expected echo of %s, got %v", msg.ID, echo)
	}
	noneQueued(t, aliceConn)

	history, _ := f.store.Conversation(context.Background(), bob.ID, alice.ID)
	if len(history) != 1 || history[0].Content != "later" {
		t.Fatalf("expected stored message in history, got %+v", history)
	}
}

func TestNotificationContentIsTruncated(t *testing.T) {
	f := newRouterFixture()
	alice := storetest.MustUser(t, f.store, "alice")
	bob := storetest.MustUser(t, f.store, "bob")
	aliceConn := f.connect(alice)
	bobConn := f.connect(bob)

	image := models.MediaImage
	url := "/uploads/cat.png"
	long := strings.Repeat("x", 80)
	f.router.Handle(context.Background(), aliceConn, alice, &DirectMessageEvent{ReceiverID: bob.ID, Content: long, MediaURL: &url, MediaType: &image})

	full := queued(t, bobConn)
	if full["content"] != long || full["media_type"] != "image" {
		t.Errorf("message frame must carry full content and media, got %v", full)
	}
	note := queued(t, bobConn)
	if note["content"] != strings.Repeat("x", 50)+"..." {
		t.Errorf("unexpected preview %q", note["content"])
	}
	if note["has_media"] != true || note["media_type"] != "image" {
		t.Errorf("expected media flags in notification, got %v", note)
	}
}

func TestGroupMessageFromNonMemberIsRejected(t *testing.T) {
	f := newRouterFixture()
	u1 := storetest.MustUser(t, f.store, "u1")
	u2 := storetest.MustUser(t, f.store, "u2")
	u3 := storetest.MustUser(t, f.store, "u3")
	g := storetest.MustGroup(t, f.store, "G", u1.ID, u2.ID)
	c1, c2, c3 := f.connect(u1), f.connect(u2), f.connect(u3)

	f.router.Handle(context.Background(), c3, u3, &GroupMessageEvent{GroupID: g.ID, Content: "let me in"})

	got := queued(t, c3)
	if got["type"] != "error" || got["message"] != "Not a member of this group" {
		t.Errorf("unexpected frame for outsider: %v", got)
	}
	noneQueued(t, c1)
	noneQueued(t, c2)

	msgs, _ := f.store.GroupMessages(context.Background(), g.ID)
	if len(msgs) != 0 {
		t.Errorf("expected nothing persisted, got %d messages", len(msgs))
	}
}

func TestGroupMessageUnknownGroup(t *testing.T) {
	f := newRouterFixture()
	u1 := storetest.MustUser(t, f.store, "u1")
	c1 := f.connect(u1)

	f.router.Handle(context.Background(), c1, u1, &GroupMessageEvent{GroupID: "missing", Content: "hello"})

	if got := queued(t, c1); got["message"] != "Group not found" {
		t.Errorf("unexpected frame: %v", got)
	}
}

func TestGroupMessageFanOut(t *testing.T) {
	f := newRouterFixture()
	u1 := storetest.MustUser(t, f.store, "u1")
	u2 := storetest.MustUser(t, f.store, "u2")
	u3 := storetest.MustUser(t, f.store, "u3")
	outsider := storetest.MustUser(t, f.store, "outsider")
	g := storetest.MustGroup(t, f.store, "G", u1.ID, u2.ID, u3.ID)
	c1, c2 := f.connect(u1), f.connect(u2)
	cOut := f.connect(outsider)

	f.router.Handle(context.Background(), c1, u1, &GroupMessageEvent{GroupID: g.ID, Content: "hello team"})

	own := queued(t, c1)
	if own["type"] != "group_message" || own["group_id"] != g.ID {
		t.Errorf("sender must receive the group message, got %v", own)
	}
	noneQueued(t, c1)

	msg := queued(t, c2)
	if msg["type"] != "group_message" || msg["sender_id"] != u1.ID {
		t.Errorf("unexpected group message: %v", msg)
	}
	note := queued(t, c2)
	if note["type"] != "notification" || note["group_id"] != g.ID || note["group_name"] != "G" {
		t.Errorf("unexpected group notification: %v", note)
	}
	noneQueued(t, cOut)

	stored, _ := f.store.GroupMessages(context.Background(), g.ID)
	if len(stored) != 1 {
		t.Fatalf("expected one stored group message, got %d", len(stored))
	}
}

func TestGroupMembershipIsCheckedPerSend(t *testing.T) {
	f := newRouterFixture()
	u1 := storetest.MustUser(t, f.store, "u1")
	u2 := storetest.MustUser(t, f.store, "u2")
	g := storetest.MustGroup(t, f.store, "G", u1.ID, u2.ID)
	ctx := context.Background()

	if _, err := f.router.SendGroup(ctx, u2, &GroupMessageEvent{GroupID: g.ID, Content: "before"}); err != nil {
		t.Fatalf("member send failed: %v", err)
	}
	if err := f.store.RemoveMember(ctx, g.ID, u2.ID); err != nil {
		t.Fatalf("RemoveMember failed: %v", err)
	}
	if _, err := f.router.SendGroup(ctx, u2, &GroupMessageEvent{GroupID: g.ID, Content: "after"}); err != ErrNotMember {
		t.Fatalf("expected ErrNotMember after removal, got %v", err)
	}
}

func TestReadReceiptOnePushPerSender(t *testing.T) {
	f := newRouterFixture()
	ctx := context.Background()
	a := storetest.MustUser(t, f.store, "a")
	b := storetest.MustUser(t, f.store, "b")
	c := storetest.MustUser(t, f.store, "c")

	m1, _ := f.router.SendDirect(ctx, a, &DirectMessageEvent{ReceiverID: b.ID, Content: "1"})
	m2, _ := f.router.SendDirect(ctx, a, &DirectMessageEvent{ReceiverID: b.ID, Content: "2"})
	m3, _ := f.router.SendDirect(ctx, c, &DirectMessageEvent{ReceiverID: b.ID, Content: "3"})
	m4, _ := f.router.SendDirect(ctx, b, &DirectMessageEvent{ReceiverID: a.ID, Content: "not b's"})

	connA, connB, connC := f.connect(a), f.connect(b), f.connect(c)

	f.router.Handle(ctx, connB, b, &ReadStatusEvent{MessageIDs: []string{m1.ID, m2.ID, m3.ID, m4.ID}})

	toA := queued(t, connA)
	ids, _ := toA["message_ids"].([]any)
	if toA["type"] != "read_status" || toA["reader_id"] != b.ID || len(ids) != 2 || toA["message_id"] != m1.ID {
		t.Errorf("unexpected read status for a: %v", toA)
	}
	noneQueued(t, connA)

	toC := queued(t, connC)
	if toC["message_id"] != m3.ID {
		t.Errorf("unexpected read status for c: %v", toC)
	}
	noneQueued(t, connC)
	noneQueued(t, connB)

	history, _ := f.store.Conversation(ctx, a.ID, b.ID)
	for _, m := range history {
		if m.ID == m4.ID && m.IsRead {
			t.Error("message whose receiver is not the reader was marked read")
		}
		if (m.ID == m1.ID || m.ID == m2.ID) && !m.IsRead {
			t.Errorf("message %s should be read", m.ID)
		}
	}

	// Already read: nothing flips, nobody is told again.
	f.router.Handle(ctx, connB, b, &ReadStatusEvent{MessageIDs: []string{m1.ID}})
	noneQueued(t, connA)
}

func TestGroupReadReceipt(t *testing.T) {
	f := newRouterFixture()
	ctx := context.Background()
	u1 := storetest.MustUser(t, f.store, "u1")
	u2 := storetest.MustUser(t, f.store, "u2")
	u3 := storetest.MustUser(t, f.store, "u3")
	g := storetest.MustGroup(t, f.store, "G", u1.ID, u2.ID)
	c1, c2, c3 := f.connect(u1), f.connect(u2), f.connect(u3)

	f.router.Handle(ctx, c2, u2, &GroupReadStatusEvent{GroupID: g.ID})

	got := queued(t, c1)
	if got["type"] != "group_read_status" || got["group_id"] != g.ID || got["reader_id"] != u2.ID || got["timestamp"] == nil {
		t.Errorf("unexpected group read status: %v", got)
	}
	noneQueued(t, c2)
	noneQueued(t, c3)

	markers, _ := f.store.ReadMarkers(ctx, g.ID)
	if len(markers) != 1 || markers[0].UserID != u2.ID {
		t.Fatalf("expected watermark for u2, got %+v", markers)
	}

	f.router.Handle(ctx, c3, u3, &GroupReadStatusEvent{GroupID: g.ID})
	if got := queued(t, c3); got["message"] != "Not a member of this group" {
		t.Errorf("expected membership error, got %v", got)
	}
}

func TestAuthenticateAfterHandshakeIsAnError(t *testing.T) {
	f := newRouterFixture()
	u := storetest.MustUser(t, f.store, "u")
	c := f.connect(u)

	f.router.Handle(context.Background(), c, u, &AuthenticateEvent{Token: "again"})

	if got := queued(t, c); got["type"] != "error" || got["message"] != "Already authenticated" {
		t.Errorf("unexpected frame: %v", got)
	}
}

func TestPushInvitation(t *testing.T) {
	f := newRouterFixture()
	guest := storetest.MustUser(t, f.store, "guest")

	inv := &models.Invitation{ID: "inv-1", GroupID: "g-1", InvitedUserID: guest.ID, InvitedBy: "admin"}
	if f.router.PushInvitation(inv, "club") {
		t.Fatal("push to an offline user must report false")
	}

	c := f.connect(guest)
	if !f.router.PushInvitation(inv, "club") {
		t.Fatal("push to an online user must succeed")
	}
	got := queued(t, c)
	if got["type"] != "group_invitation" || got["invitation_id"] != "inv-1" || got["group_name"] != "club" {
		t.Errorf("unexpected invitation frame: %v", got)
	}
}

var errStoreDown = errors.New("store unavailable")

// downStore accepts reads but fails every write the router makes
type downStore struct {
	*memory.Store
}

func (downStore) InsertMessage(context.Context, *models.Message) error { return errStoreDown }
func (downStore) InsertGroupMessage(context.Context, *models.GroupMessage) error {
	return errStoreDown
}
func (downStore) MarkRead(context.Context, string, []string) ([]models.ReadMessage, error) {
	return nil, errStoreDown
}
func (downStore) UpsertReadMarker(context.Context, models.GroupReadMarker) error {
	return errStoreDown
}

func expectOnlyError(t *testing.T, c *Client, message string) {
	t.Helper()
	got := queued(t, c)
	if got["type"] != "error" || got["message"] != message {
		t.Fatalf("expected error %q, got %v", message, got)
	}
	noneQueued(t, c)
}

func TestFailedPersistenceIsNotFannedOut(t *testing.T) {
	f := newRouterFixture()
	f.router = NewRouter(downStore{f.store}, f.registry, zap.NewNop())

	alice := storetest.MustUser(t, f.store, "alice")
	bob := storetest.MustUser(t, f.store, "bob")
	carol := storetest.MustUser(t, f.store, "carol")
	group := storetest.MustGroup(t, f.store, "team", alice.ID, bob.ID, carol.ID)

	aliceConn := f.connect(alice)
	bobConn := f.connect(bob)
	carolConn := f.connect(carol)
	ctx := context.Background()

	f.router.Handle(ctx, aliceConn, alice, &DirectMessageEvent{ReceiverID: bob.ID, Content: "hi"})
	expectOnlyError(t, aliceConn, "Failed to send message")
	noneQueued(t, bobConn)

	f.router.Handle(ctx, aliceConn, alice, &GroupMessageEvent{GroupID: group.ID, Content: "hi all"})
	expectOnlyError(t, aliceConn, "Failed to send message")
	noneQueued(t, bobConn)
	noneQueued(t, carolConn)

	f.router.Handle(ctx, bobConn, bob, &ReadStatusEvent{MessageIDs: []string{"m1"}})
	expectOnlyError(t, bobConn, "Failed to update read status")
	noneQueued(t, aliceConn)

	f.router.Handle(ctx, aliceConn, alice, &GroupReadStatusEvent{GroupID: group.ID})
	expectOnlyError(t, aliceConn, "Failed to update read status")
	noneQueued(t, bobConn)
	noneQueued(t, carolConn)

	if msgs, _ := f.store.Conversation(ctx, alice.ID, bob.ID); len(msgs) != 0 {
		t.Errorf("expected nothing stored, got %+v", msgs)
	}
}
