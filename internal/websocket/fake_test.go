package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"
)

var (
	errFakeClosed  = errors.New("fake transport closed")
	errFakeTimeout = errors.New("fake read deadline exceeded")
)

// fakeConn is an in-memory Transport. Frames pushed with deliver are read by
// the server; text frames the server writes arrive on written.
type fakeConn struct {
	in      chan []byte
	written chan []byte
	done    chan struct{}

	mu          sync.Mutex
	deadline    time.Time
	closeCount  int
	closeFrames int
	released    bool
	lateCalls   int
	closeOnce   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:      make(chan []byte, 16),
		written: make(chan []byte, 64),
		done:    make(chan struct{}),
	}
}

func (f *fakeConn) deliver(v any) {
	var data []byte
	switch t := v.(type) {
	case string:
		data = []byte(t)
	case []byte:
		data = t
	default:
		data, _ = json.Marshal(v)
	}
	f.in <- data
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	f.mu.Lock()
	deadline := f.deadline
	f.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case data := <-f.in:
		return websocket.TextMessage, data, nil
	case <-f.done:
		return 0, nil, errFakeClosed
	case <-timeout:
		return 0, nil, errFakeTimeout
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	if messageType == websocket.CloseMessage {
		f.closeFrames++
	}
	if f.released {
		f.lateCalls++
	}
	f.mu.Unlock()

	select {
	case <-f.done:
		return errFakeClosed
	default:
	}
	if messageType == websocket.TextMessage {
		f.written <- append([]byte(nil), data...)
	}
	return nil
}

func (f *fakeConn) SetReadDeadline(t time.Time) error {
	f.mu.Lock()
	f.deadline = t
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error {
	f.mu.Lock()
	if f.released {
		f.lateCalls++
	}
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) SetPongHandler(func(appData string) error) {}
func (f *fakeConn) SetReadLimit(int64)                        {}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closeCount++
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeConn) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCount
}

// release marks the transport as handed back to its owner; any later
// write-side call is counted.
func (f *fakeConn) release() {
	f.mu.Lock()
	f.released = true
	f.mu.Unlock()
}

func (f *fakeConn) writeStats() (closeFrames, lateCalls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeFrames, f.lateCalls
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func newTestClient(userID string, buffer int) (*Client, *fakeConn) {
	conn := newFakeConn()
	return NewClient(userID, conn, buffer, zap.NewNop()), conn
}

type frame map[string]any

func decodeFrame(t *testing.T, data []byte) frame {
	t.Helper()
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("invalid frame %q: %v", data, err)
	}
	return f
}

// queued pops the next frame queued on a client that has no write pump.
func queued(t *testing.T, c *Client) frame {
	t.Helper()
	select {
	case data, ok := <-c.send:
		if !ok {
			t.Fatal("client queue closed")
		}
		return decodeFrame(t, data)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func noneQueued(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data, ok := <-c.send:
		if ok {
			t.Fatalf("unexpected frame %s", data)
		}
	default:
	}
}

// written pops the next frame a running connection wrote to its transport.
func written(t *testing.T, f *fakeConn) frame {
	t.Helper()
	select {
	case data := <-f.written:
		return decodeFrame(t, data)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for written frame")
		return nil
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
