package websocket

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Transport is the part of a websocket connection the server needs.
// *websocket.Conn from gofiber/contrib satisfies it.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	SetReadLimit(limit int64)
	Close() error
}

// Client is one authenticated connection. Outbound frames go through a
// bounded queue drained by WritePump; a full queue counts as a dead peer.
type Client struct {
	UserID      string
	ConnectedAt time.Time

	conn Transport
	log  *zap.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient creates a client for an authenticated user
func NewClient(userID string, conn Transport, sendBuffer int, log *zap.Logger) *Client {
	return &Client{
		UserID:      userID,
		ConnectedAt: time.Now(),
		conn:        conn,
		log:         log.With(zap.String("user_id", userID)),
		send:        make(chan []byte, sendBuffer),
		done:        make(chan struct{}),
	}
}

// enqueue queues data without blocking. It reports false when the client is
// closed or its queue is full.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close stops the write pump and closes the transport. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()

		c.conn.Close()
	})
}

// Closed reports whether Close has been called
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Done is closed once WritePump has returned and no longer touches the
// transport.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// WritePump drains the send queue onto the transport and keeps the peer alive
// with pings. onFailure runs when a write fails.
func (c *Client) WritePump(onFailure func()) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(c.done)
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("write failed", zap.Error(err))
				onFailure()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				onFailure()
				return
			}
		}
	}
}

// prepareRead arms the keep-alive read deadline
func (c *Client) prepareRead(maxMessageSize int64) {
	if maxMessageSize > 0 {
		c.conn.SetReadLimit(maxMessageSize)
	}
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
}

// Read blocks for the next inbound frame and extends the read deadline
func (c *Client) Read() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	return data, nil
}
