package websocket

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry maps each user to at most one live Client. It is the only shared
// mutable state of the realtime layer.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		clients: make(map[string]*Client),
		log:     log,
	}
}

// Bind installs c for userID. A previous connection for the same user is
// closed before the new one becomes visible.
func (r *Registry) Bind(userID string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.clients[userID]; ok && old != c {
		old.Close()
		r.log.Info("evicted stale connection", zap.String("user_id", userID))
	}
	r.clients[userID] = c
	r.log.Info("client connected", zap.String("user_id", userID), zap.Int("online", len(r.clients)))
}

// Unbind removes whatever connection userID has. No-op when absent.
func (r *Registry) Unbind(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.clients, userID)
}

// Release removes c only if it is still the connection bound for its user,
// so a connection that was already replaced never removes its successor.
func (r *Registry) Release(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.clients[c.UserID]; ok && cur == c {
		delete(r.clients, c.UserID)
		r.log.Info("client disconnected", zap.String("user_id", c.UserID), zap.Int("online", len(r.clients)))
		return true
	}
	return false
}

// Lookup returns the live connection of userID
func (r *Registry) Lookup(userID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[userID]
	return c, ok
}

// Send pushes payload to userID. It returns false when the user is not
// connected or the push failed; a failed push disconnects that client.
func (r *Registry) Send(userID string, payload []byte) bool {
	c, ok := r.Lookup(userID)
	if !ok {
		return false
	}
	return r.SendTo(c, payload)
}

// SendTo pushes payload to a specific connection
func (r *Registry) SendTo(c *Client, payload []byte) bool {
	if c.enqueue(payload) {
		return true
	}
	r.drop(c)
	return false
}

// Broadcast pushes payload to every connection except exclude. Recipients
// that fail are dropped after the others have been served.
func (r *Registry) Broadcast(payload []byte, exclude string) {
	r.mu.RLock()
	targets := make([]*Client, 0, len(r.clients))
	for userID, c := range r.clients {
		if userID != exclude {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	var failed []*Client
	for _, c := range targets {
		if !c.enqueue(payload) {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		r.drop(c)
	}
}

// drop treats c as disconnected
func (r *Registry) drop(c *Client) {
	if r.Release(c) {
		r.log.Warn("dropped unreachable client", zap.String("user_id", c.UserID))
	}
	c.Close()
}

// IsOnline reports whether userID has a live connection
func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// OnlineUsers returns the ids of connected users, sorted
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userIDs := make([]string, 0, len(r.clients))
	for userID := range r.clients {
		userIDs = append(userIDs, userID)
	}
	sort.Strings(userIDs)
	return userIDs
}

// Count returns the number of connected users
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.clients)
}

// CloseAll disconnects every client. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*Client)
	r.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	r.log.Info("closed all connections", zap.Int("count", len(clients)))
}
