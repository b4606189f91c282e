package websocket

import (
	"context"
	"testing"
	"time"

	"getchat/internal/store"
	"getchat/internal/store/memory"
	"getchat/internal/store/storetest"

	"go.uber.org/zap"
)

// ctxUsers fails presence writes on a cancelled context, like the network
// drivers do.
type ctxUsers struct {
	store.Users
}

func (u ctxUsers) SetPresence(ctx context.Context, id string, online bool, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return u.Users.SetPresence(ctx, id, online, at)
}

func TestOfflinePersistsAfterContextCancelled(t *testing.T) {
	s := memory.New()
	alice := storetest.MustUser(t, s, "alice")
	p := NewPresence(NewRegistry(zap.NewNop()), ctxUsers{s}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	p.Online(ctx, alice.ID)

	stored, _ := s.GetUserByID(context.Background(), alice.ID)
	if !stored.IsOnline {
		t.Fatal("expected alice to be stored as online")
	}

	cancel()
	if !p.Offline(ctx, alice.ID) {
		t.Fatal("expected an offline announcement")
	}

	stored, _ = s.GetUserByID(context.Background(), alice.ID)
	if stored.IsOnline {
		t.Error("expected alice to be stored as offline after shutdown")
	}
}

func TestWritePumpSignalsDone(t *testing.T) {
	c, conn := newTestClient("alice", 4)
	go c.WritePump(func() {})

	c.Close()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("write pump never finished")
	}
	if closeFrames, _ := conn.writeStats(); closeFrames != 1 {
		t.Errorf("expected one close frame, got %d", closeFrames)
	}
}
