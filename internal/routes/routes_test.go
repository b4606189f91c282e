package routes

import (
	"context"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"getchat/internal/handlers"
	"getchat/internal/media"
	"getchat/internal/models"
	"getchat/internal/store/memory"
	"getchat/internal/store/storetest"
	"getchat/internal/utils"
	ws "getchat/internal/websocket"

	"github.com/gofiber/fiber/v2"
	gws "github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type server struct {
	app      *fiber.App
	addr     string
	store    *memory.Store
	registry *ws.Registry
	tokens   *utils.TokenManager
}

func startServer(t *testing.T) *server {
	t.Helper()

	log := zap.NewNop()
	s := memory.New()
	tokens := utils.NewTokenManager("e2e-secret", time.Hour)
	registry := ws.NewRegistry(log)
	router := ws.NewRouter(s, registry, log)
	presence := ws.NewPresence(registry, s, log)
	gateway := ws.NewGateway(registry, router, presence, tokens, s, ws.GatewayConfig{
		AuthTimeout:    2 * time.Second,
		SendBuffer:     32,
		MaxMessageSize: 64 * 1024,
	}, log)

	h := handlers.New(handlers.Deps{
		Store:    s,
		Registry: registry,
		Router:   router,
		Gateway:  gateway,
		Tokens:   tokens,
		Uploader: media.NewLocalUploader(t.TempDir(), "/uploads"),
		Log:      log,
	})

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          handlers.ErrorHandler(log),
	})
	SetupRoutes(context.Background(), app, h, tokens, s, log)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go app.Listener(ln)

	t.Cleanup(func() {
		registry.CloseAll()
		app.Shutdown()
	})

	return &server{app: app, addr: ln.Addr().String(), store: s, registry: registry, tokens: tokens}
}

// dial opens a socket and authenticates it as user
func (s *server) dial(t *testing.T, user *models.User) *gws.Conn {
	t.Helper()

	conn, _, err := gws.DefaultDialer.Dial("ws://"+s.addr+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	token, err := s.tokens.Generate(user.Email)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if err := conn.WriteJSON(map[string]string{"type": "authenticate", "token": token}); err != nil {
		t.Fatalf("write authenticate: %v", err)
	}

	// the stored flag flips after the online announcement went out
	deadline := time.Now().Add(2 * time.Second)
	for !s.storedOnline(user.ID) {
		if time.Now().After(deadline) {
			t.Fatalf("%s never came online", user.Username)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func (s *server) storedOnline(userID string) bool {
	u, err := s.store.GetUserByID(context.Background(), userID)
	return err == nil && u.IsOnline
}

func readFrame(t *testing.T, conn *gws.Conn) map[string]any {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func expectType(t *testing.T, frame map[string]any, want string) {
	t.Helper()
	if frame["type"] != want {
		t.Fatalf("expected %s frame, got %v", want, frame)
	}
}

func TestChatOverWebSocket(t *testing.T) {
	srv := startServer(t)
	alice := storetest.MustUser(t, srv.store, "alice")
	bob := storetest.MustUser(t, srv.store, "bob")

	aliceConn := srv.dial(t, alice)
	bobConn := srv.dial(t, bob)

	status := readFrame(t, aliceConn)
	expectType(t, status, "user_status")
	if status["user_id"] != bob.ID || status["status"] != "online" {
		t.Fatalf("unexpected presence %v", status)
	}

	err := aliceConn.WriteJSON(map[string]string{"type": "message", "receiver_id": bob.ID, "content": "hi"})
	if err != nil {
		t.Fatalf("write message: %v", err)
	}

	msg := readFrame(t, bobConn)
	expectType(t, msg, "message")
	if msg["sender_id"] != alice.ID || msg["content"] != "hi" || msg["is_read"] != false {
		t.Fatalf("unexpected message %v", msg)
	}
	note := readFrame(t, bobConn)
	expectType(t, note, "notification")
	if note["sender_username"] != "alice" {
		t.Errorf("unexpected notification %v", note)
	}

	echo := readFrame(t, aliceConn)
	expectType(t, echo, "message")
	if echo["id"] != msg["id"] {
		t.Errorf("echo %v does not match delivery %v", echo["id"], msg["id"])
	}

	// bob reads it and alice is told
	err = bobConn.WriteJSON(map[string]any{"type": "read_status", "message_ids": []string{msg["id"].(string)}})
	if err != nil {
		t.Fatalf("write read_status: %v", err)
	}
	receipt := readFrame(t, aliceConn)
	expectType(t, receipt, "read_status")
	if receipt["message_id"] != msg["id"] || receipt["reader_id"] != bob.ID {
		t.Errorf("unexpected receipt %v", receipt)
	}

	bobConn.Close()
	status = readFrame(t, aliceConn)
	expectType(t, status, "user_status")
	if status["user_id"] != bob.ID || status["status"] != "offline" {
		t.Errorf("unexpected presence %v", status)
	}
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	srv := startServer(t)

	conn, _, err := gws.DefaultDialer.Dial("ws://"+srv.addr+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "authenticate", "token": "garbage"}); err != nil {
		t.Fatalf("write authenticate: %v", err)
	}

	frame := readFrame(t, conn)
	expectType(t, frame, "error")
	if frame["message"] != "Invalid token" {
		t.Errorf("unexpected error %v", frame)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the connection to be closed")
	}
}

func TestRESTRoutes(t *testing.T) {
	srv := startServer(t)

	resp, err := srv.app.Test(httptest.NewRequest("GET", "/api/health", nil))
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("expected 200 from health, got %d", resp.StatusCode)
	}

	resp, err = srv.app.Test(httptest.NewRequest("GET", "/api/groups", nil))
	if err != nil {
		t.Fatalf("groups: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("expected 401 without a token, got %d", resp.StatusCode)
	}
}

func TestReconnectLoopReusesConnections(t *testing.T) {
	srv := startServer(t)
	alice := storetest.MustUser(t, srv.store, "alice")
	bob := storetest.MustUser(t, srv.store, "bob")

	for i := 0; i < 10; i++ {
		for _, u := range []*models.User{alice, bob} {
			conn := srv.dial(t, u)
			conn.Close()

			deadline := time.Now().Add(2 * time.Second)
			for srv.storedOnline(u.ID) {
				if time.Now().After(deadline) {
					t.Fatalf("round %d: %s never went offline", i, u.Username)
				}
				time.Sleep(5 * time.Millisecond)
			}
		}
	}
}
