package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/websocket/v2"
)

// fakeConn records writes and blocks reads until closed.
type fakeConn struct {
	mu      sync.Mutex
	writes  [][]byte
	types   []int
	closed  chan struct{}
	once    sync.Once
	written chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{closed: make(chan struct{}), written: make(chan struct{}, 64)}
}

func (c *fakeConn) SetReadLimit(int64) {}

func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) SetPongHandler(func(string) error) {}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, errors.New("closed")
}

func (c *fakeConn) WriteMessage(t int, data []byte) error {
	c.mu.Lock()
	c.types = append(c.types, t)
	c.writes = append(c.writes, append([]byte(nil), data...))
	c.mu.Unlock()
	c.written <- struct{}{}
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for i, w := range c.writes {
		if c.types[i] == websocket.TextMessage {
			out = append(out, string(w))
		}
	}
	return out
}

func (c *fakeConn) waitWrites(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-c.written:
		case <-deadline:
			t.Fatalf("timed out waiting for write %d of %d", i+1, n)
		}
	}
}

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := New("test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h, cancel
}

func connect(t *testing.T, h *Hub, topic string) *fakeConn {
	t.Helper()
	conn := newFakeConn()
	c, err := NewClient(h, conn, topic)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	go c.Run()
	return conn
}

func waitCount(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", h.ClientCount(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPublishTopics(t *testing.T) {
	h, _ := startHub(t)

	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")
	all := connect(t, h, "")
	waitCount(t, h, 3)

	if err := h.Publish("alice", map[string]int{"score": 40}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	alice.waitWrites(t, 1)
	all.waitWrites(t, 1)

	if err := h.Publish("", map[string]string{"notice": "hi"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	alice.waitWrites(t, 1)
	bob.waitWrites(t, 1)
	all.waitWrites(t, 1)

	if got := alice.texts(); len(got) != 2 || got[0] != `{"score":40}` {
		t.Errorf("alice got %v", got)
	}
	if got := bob.texts(); len(got) != 1 || got[0] != `{"notice":"hi"}` {
		t.Errorf("bob got %v", got)
	}
	if got := all.texts(); len(got) != 2 {
		t.Errorf("wildcard got %v", got)
	}
}

func TestPublishError(t *testing.T) {
	h := New("test", nil)
	if err := h.Publish("x", make(chan int)); err == nil {
		t.Error("Publish() should fail on unencodable value")
	}
}

func TestClientDisconnect(t *testing.T) {
	h, _ := startHub(t)
	conn := connect(t, h, "alice")
	waitCount(t, h, 1)

	conn.Close()
	waitCount(t, h, 0)
}

func TestRunStopsAndClosesClients(t *testing.T) {
	h, cancel := startHub(t)
	conn := connect(t, h, "alice")
	waitCount(t, h, 1)
	if !h.IsRunning() {
		t.Fatal("IsRunning() = false while running")
	}

	cancel()
	// The write pump sends a close frame once the hub closes its channel.
	conn.waitWrites(t, 1)
	if h.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d after stop", h.ClientCount())
	}

	if _, err := NewClient(h, newFakeConn(), "late"); !errors.Is(err, ErrHubStopped) {
		t.Errorf("NewClient() after stop error = %v, want ErrHubStopped", err)
	}
	if h.IsRunning() {
		t.Error("IsRunning() = true after stop")
	}
}

func TestBroadcastDropsWhenFull(t *testing.T) {
	h := New("test", nil)
	for i := 0; i < cap(h.broadcast)+5; i++ {
		h.Broadcast(NewJSONMessage("", []byte("{}")))
	}
	if h.Dropped() != 5 {
		t.Errorf("Dropped() = %d, want 5", h.Dropped())
	}
}

func TestMessageMatches(t *testing.T) {
	tests := []struct {
		msgTopic, clientTopic string
		want                  bool
	}{
		{"alice", "alice", true},
		{"alice", "bob", false},
		{"", "bob", true},
		{"alice", "", true},
	}
	for _, tt := range tests {
		m := NewJSONMessage(tt.msgTopic, nil)
		if got := m.matches(tt.clientTopic); got != tt.want {
			t.Errorf("matches(%q→%q) = %v, want %v", tt.msgTopic, tt.clientTopic, got, tt.want)
		}
	}
}
