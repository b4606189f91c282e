package websocket

import (
	"context"
	"testing"
	"time"

	"getchat/internal/models"
	"getchat/internal/store/memory"
	"getchat/internal/store/storetest"
	"getchat/internal/utils"

	"go.uber.org/zap"
)

type gatewayFixture struct {
	store    *memory.Store
	registry *Registry
	tokens   *utils.TokenManager
	gateway  *Gateway
}

func newGatewayFixture(authTimeout time.Duration) *gatewayFixture {
	s := memory.New()
	reg := NewRegistry(zap.NewNop())
	tokens := utils.NewTokenManager("test-secret", time.Hour)
	gw := NewGateway(
		reg,
		NewRouter(s, reg, zap.NewNop()),
		NewPresence(reg, s, zap.NewNop()),
		tokens,
		s,
		GatewayConfig{AuthTimeout: authTimeout, SendBuffer: 32},
		zap.NewNop(),
	)
	return &gatewayFixture{store: s, registry: reg, tokens: tokens, gateway: gw}
}

// serve runs a connection in the background; the returned channel closes
// when Serve returns.
func (f *gatewayFixture) serve(conn *fakeConn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.gateway.Serve(context.Background(), conn)
	}()
	return done
}

func (f *gatewayFixture) login(t *testing.T, u *models.User) (*fakeConn, <-chan struct{}) {
	t.Helper()
	token, err := f.tokens.Generate(u.Email)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	conn := newFakeConn()
	done := f.serve(conn)
	conn.deliver(map[string]string{"type": "authenticate", "token": token})
	eventually(t, func() bool { return f.registry.IsOnline(u.ID) }, "user never became online")
	return conn, done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not closed")
	}
}

func noWrites(t *testing.T, conn *fakeConn) {
	t.Helper()
	select {
	case data := <-conn.written:
		t.Fatalf("unexpected frame %s", data)
	default:
	}
}

func TestHandshakeRejectsNonAuthenticateFirstFrame(t *testing.T) {
	cases := map[string]string{
		"malformed json": `{not json`,
		"message first":  `{"type":"message","receiver_id":"u2","content":"hi"}`,
		"missing token":  `{"type":"authenticate"}`,
		"unknown type":   `{"type":"hello"}`,
	}
	for name, first := range cases {
		t.Run(name, func(t *testing.T) {
			f := newGatewayFixture(time.Second)
			conn := newFakeConn()
			done := f.serve(conn)
			conn.deliver(first)

			waitDone(t, done)
			if !conn.isClosed() {
				t.Error("expected transport to be closed")
			}
			noWrites(t, conn)
			if f.registry.Count() != 0 {
				t.Error("nothing may be bound")
			}
		})
	}
}

func TestHandshakeTimeout(t *testing.T) {
	f := newGatewayFixture(50 * time.Millisecond)
	conn := newFakeConn()
	done := f.serve(conn)

	waitDone(t, done)
	if !conn.isClosed() {
		t.Error("idle unauthenticated connection must be closed")
	}
	noWrites(t, conn)
}

func TestHandshakeTokenErrors(t *testing.T) {
	f := newGatewayFixture(time.Second)
	u := storetest.MustUser(t, f.store, "alice")

	expired := utils.NewTokenManager("test-secret", -time.Minute)
	expiredToken, _ := expired.Generate(u.Email)
	ghostToken, _ := f.tokens.Generate("ghost@example.com")

	cases := []struct {
		name  string
		token string
		want  string
	}{
		{"expired", expiredToken, "Token expired"},
		{"garbage", "abc.def.ghi", "Invalid token"},
		{"unknown user", ghostToken, "User not found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := newFakeConn()
			done := f.serve(conn)
			conn.deliver(map[string]string{"type": "authenticate", "token": tc.token})

			got := written(t, conn)
			if got["type"] != "error" || got["message"] != tc.want {
				t.Errorf("expected error %q, got %v", tc.want, got)
			}
			waitDone(t, done)
			if !conn.isClosed() {
				t.Error("expected transport to be closed")
			}
		})
	}
}

func TestPresenceOnlineAndOffline(t *testing.T) {
	f := newGatewayFixture(time.Second)
	alice := storetest.MustUser(t, f.store, "alice")
	bob := storetest.MustUser(t, f.store, "bob")

	aliceConn, _ := f.login(t, alice)
	noWrites(t, aliceConn)

	bobConn, bobDone := f.login(t, bob)
	online := written(t, aliceConn)
	if online["type"] != "user_status" || online["user_id"] != bob.ID || online["status"] != "online" {
		t.Errorf("unexpected presence frame: %v", online)
	}

	eventually(t, func() bool {
		stored, _ := f.store.GetUserByID(context.Background(), bob.ID)
		return stored.IsOnline
	}, "expected bob to be stored as online")

	bobConn.Close()
	waitDone(t, bobDone)

	offline := written(t, aliceConn)
	if offline["type"] != "user_status" || offline["user_id"] != bob.ID || offline["status"] != "offline" {
		t.Errorf("unexpected presence frame: %v", offline)
	}
	noWrites(t, aliceConn)
	if f.registry.IsOnline(bob.ID) {
		t.Error("bob must be unbound after disconnect")
	}

	stored, _ := f.store.GetUserByID(context.Background(), bob.ID)
	if stored.IsOnline {
		t.Error("expected bob to be stored as offline")
	}
}

func TestReconnectEvictsOldSessionWithoutOffline(t *testing.T) {
	f := newGatewayFixture(time.Second)
	alice := storetest.MustUser(t, f.store, "alice")
	bob := storetest.MustUser(t, f.store, "bob")

	aliceConn, _ := f.login(t, alice)

	firstConn, firstDone := f.login(t, bob)
	written(t, aliceConn) // bob online

	token, _ := f.tokens.Generate(bob.Email)
	secondConn := newFakeConn()
	f.serve(secondConn)
	secondConn.deliver(map[string]string{"type": "authenticate", "token": token})

	waitDone(t, firstDone)
	if !firstConn.isClosed() {
		t.Fatal("old session must be closed")
	}

	again := written(t, aliceConn)
	if again["status"] != "online" {
		t.Errorf("expected a second online announcement, got %v", again)
	}
	time.Sleep(50 * time.Millisecond)
	noWrites(t, aliceConn)

	if c, ok := f.registry.Lookup(bob.ID); !ok || c.conn != secondConn {
		t.Error("new session must stay bound")
	}
}

func TestSessionRoutesEventsAndSurvivesUnknownTypes(t *testing.T) {
	f := newGatewayFixture(time.Second)
	alice := storetest.MustUser(t, f.store, "alice")
	bob := storetest.MustUser(t, f.store, "bob")

	aliceConn, _ := f.login(t, alice)
	bobConn, _ := f.login(t, bob)
	written(t, aliceConn) // bob online

	aliceConn.deliver(`{"type":"typing"}`)
	if got := written(t, aliceConn); got["type"] != "error" || got["message"] != "Unknown event type" {
		t.Fatalf("expected unknown event error, got %v", got)
	}

	aliceConn.deliver(`{"type":"message","content":"no receiver"}`)
	if got := written(t, aliceConn); got["message"] != "Invalid event payload" {
		t.Fatalf("expected invalid payload error, got %v", got)
	}

	aliceConn.deliver(map[string]string{"type": "message", "receiver_id": bob.ID, "content": "hi"})

	if got := written(t, bobConn); got["type"] != "message" || got["content"] != "hi" {
		t.Errorf("unexpected frame for bob: %v", got)
	}
	if got := written(t, bobConn); got["type"] != "notification" {
		t.Errorf("expected notification for bob, got %v", got)
	}
	if got := written(t, aliceConn); got["type"] != "message" || got["sender_id"] != alice.ID {
		t.Errorf("expected echo for alice, got %v", got)
	}
}

func TestMalformedFrameAfterAuthCloses(t *testing.T) {
	f := newGatewayFixture(time.Second)
	alice := storetest.MustUser(t, f.store, "alice")
	bob := storetest.MustUser(t, f.store, "bob")

	aliceConn, _ := f.login(t, alice)
	bobConn, bobDone := f.login(t, bob)
	written(t, aliceConn) // bob online

	bobConn.deliver(`{"type":`)
	waitDone(t, bobDone)

	if got := written(t, aliceConn); got["status"] != "offline" || got["user_id"] != bob.ID {
		t.Errorf("expected offline for bob, got %v", got)
	}
}

func TestServeReturnsOnlyAfterWriterStops(t *testing.T) {
	f := newGatewayFixture(time.Second)
	alice := storetest.MustUser(t, f.store, "alice")

	for i := 0; i < 10; i++ {
		conn, done := f.login(t, alice)
		conn.Close()
		waitDone(t, done)
		conn.release()

		closeFrames, _ := conn.writeStats()
		if closeFrames != 1 {
			t.Fatalf("round %d: expected the close frame before Serve returned, got %d", i, closeFrames)
		}

		time.Sleep(20 * time.Millisecond)
		if _, late := conn.writeStats(); late != 0 {
			t.Fatalf("round %d: %d writes reached the transport after Serve returned", i, late)
		}
	}
}
