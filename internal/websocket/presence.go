package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"getchat/internal/store"

	"go.uber.org/zap"
)

const persistTimeout = 5 * time.Second

// Presence announces online/offline transitions to every other connection
// and records them on the user row.
type Presence struct {
	registry *Registry
	users    store.Users
	log      *zap.Logger

	// serializes announcements and their writes so an offline for an old
	// connection cannot overtake the online of its replacement
	mu sync.Mutex
}

func NewPresence(registry *Registry, users store.Users, log *zap.Logger) *Presence {
	return &Presence{registry: registry, users: users, log: log}
}

// Online announces userID after its connection has been bound
func (p *Presence) Online(ctx context.Context, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.announce(userID, StatusOnline)
	p.persist(ctx, userID, true)
}

// Offline announces userID unless a newer connection for the same user is
// already bound. It reports whether an announcement was made.
func (p *Presence) Offline(ctx context.Context, userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.registry.IsOnline(userID) {
		return false
	}
	p.announce(userID, StatusOffline)
	p.persist(ctx, userID, false)
	return true
}

func (p *Presence) announce(userID, status string) {
	data, err := json.Marshal(UserStatusFrame{Type: EventUserStatus, UserID: userID, Status: status})
	if err != nil {
		p.log.Error("failed to marshal presence", zap.Error(err))
		return
	}
	p.registry.Broadcast(data, userID)
}

// persist outlives the caller's context: sessions closed during shutdown
// still record that the user went offline.
func (p *Presence) persist(ctx context.Context, userID string, online bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := p.users.SetPresence(ctx, userID, online, time.Now().UTC()); err != nil {
		p.log.Warn("failed to update presence", zap.String("user_id", userID), zap.Bool("online", online), zap.Error(err))
	}
}
