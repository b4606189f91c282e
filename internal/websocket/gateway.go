package websocket

import (
	"context"
	"errors"
	"time"

	"getchat/internal/models"
	"getchat/internal/store"
	"getchat/internal/utils"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"
)

// Verifier turns a bearer token into the subject it was issued for
type Verifier interface {
	Verify(token string) (string, error)
}

// GatewayConfig holds the per-connection limits
type GatewayConfig struct {
	AuthTimeout    time.Duration
	SendBuffer     int
	MaxMessageSize int64
}

// Gateway runs the lifecycle of one socket: wait for the authenticate frame,
// bind the user, route events until the socket dies, then clean up.
type Gateway struct {
	registry *Registry
	router   *Router
	presence *Presence
	verifier Verifier
	users    store.Users
	cfg      GatewayConfig
	log      *zap.Logger
}

func NewGateway(registry *Registry, router *Router, presence *Presence, verifier Verifier, users store.Users, cfg GatewayConfig, log *zap.Logger) *Gateway {
	return &Gateway{
		registry: registry,
		router:   router,
		presence: presence,
		verifier: verifier,
		users:    users,
		cfg:      cfg,
		log:      log,
	}
}

var errHandshake = errors.New("handshake failed")

// Serve blocks until the connection is closed
func (g *Gateway) Serve(ctx context.Context, conn Transport) {
	user, err := g.authenticate(ctx, conn)
	if err != nil {
		conn.Close()
		return
	}

	client := NewClient(user.ID, conn, g.cfg.SendBuffer, g.log)
	g.registry.Bind(user.ID, client)
	g.presence.Online(ctx, user.ID)

	go client.WritePump(func() { g.registry.drop(client) })

	g.readLoop(ctx, client, user)

	g.registry.Release(client)
	client.Close()
	// the transport is recycled once Serve returns
	<-client.Done()
	g.presence.Offline(ctx, user.ID)
}

// authenticate reads exactly one frame. Anything other than a well-formed
// authenticate event closes the socket without a reply; a rejected token
// gets an error frame first.
func (g *Gateway) authenticate(ctx context.Context, conn Transport) (*models.User, error) {
	if g.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(g.cfg.MaxMessageSize)
	}
	if g.cfg.AuthTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(g.cfg.AuthTimeout))
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		g.log.Debug("no authenticate frame", zap.Error(err))
		return nil, errHandshake
	}

	ev, err := DecodeEvent(data)
	if err != nil {
		g.log.Debug("rejected first frame", zap.Error(err))
		return nil, errHandshake
	}
	auth, ok := ev.(*AuthenticateEvent)
	if !ok {
		g.log.Debug("first frame is not authenticate", zap.String("type", string(ev.Type())))
		return nil, errHandshake
	}

	subject, err := g.verifier.Verify(auth.Token)
	if errors.Is(err, utils.ErrTokenExpired) {
		g.reject(conn, "Token expired")
		return nil, errHandshake
	}
	if err != nil {
		g.reject(conn, "Invalid token")
		return nil, errHandshake
	}

	user, err := g.users.GetUserByEmail(ctx, subject)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			g.log.Error("failed to load user", zap.Error(err))
		}
		g.reject(conn, "User not found")
		return nil, errHandshake
	}

	return user, nil
}

// reject writes an error frame directly, before any write pump exists
func (g *Gateway) reject(conn Transport, message string) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, encodeError(message)); err != nil {
		g.log.Debug("failed to send rejection", zap.Error(err))
	}
}

func (g *Gateway) readLoop(ctx context.Context, c *Client, user *models.User) {
	log := g.log.With(zap.String("user_id", user.ID))
	c.prepareRead(g.cfg.MaxMessageSize)

	for {
		data, err := c.Read()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Debug("connection closed", zap.Error(err))
			}
			return
		}

		ev, err := DecodeEvent(data)
		switch {
		case errors.Is(err, ErrUnknownEvent):
			g.registry.SendTo(c, encodeError("Unknown event type"))
			continue
		case errors.Is(err, ErrInvalidPayload):
			g.registry.SendTo(c, encodeError("Invalid event payload"))
			continue
		case err != nil:
			log.Info("closing connection on malformed frame", zap.Error(err))
			return
		}

		g.router.Handle(ctx, c, user, ev)
	}
}
