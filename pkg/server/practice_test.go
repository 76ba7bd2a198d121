package server

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-rehearse/pkg/activity"
	"github.com/teslashibe/go-rehearse/pkg/audioio"
	"github.com/teslashibe/go-rehearse/pkg/confidence"
	"github.com/teslashibe/go-rehearse/pkg/protocol"
	"github.com/teslashibe/go-rehearse/pkg/rtc"
	"github.com/teslashibe/go-rehearse/pkg/session"
	"github.com/teslashibe/go-rehearse/pkg/store"
)

const testSampleRate = 16000

var quickScenario = session.Scenario{ID: "quick", Title: "Quick Answer", Category: "project", Seconds: 3}

func testOptions() Options {
	opts := DefaultOptions()
	opts.SampleRate = testSampleRate

	opts.Activity = activity.DefaultConfig()
	opts.Activity.FrameSize = 640
	opts.Activity.HopSize = 320

	opts.Fusion = confidence.DefaultConfig()
	opts.Fusion.TickInterval = 2 * time.Millisecond

	opts.Countdown = 100 * time.Millisecond
	return opts
}

// startServer serves s on a loopback port and returns its websocket base URL.
func startServer(t *testing.T, s *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.Serve(ctx, ln); err != nil {
			t.Logf("Serve() error = %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	deadline := time.Now().Add(2 * time.Second)
	for !s.Hub().IsRunning() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	return "ws://" + ln.Addr().String()
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	var ws *websocket.Conn
	var err error
	for i := 0; i < 50; i++ {
		ws, _, err = websocket.DefaultDialer.Dial(url, header)
		if err == nil {
			t.Cleanup(func() { ws.Close() })
			return ws
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Dial(%s) error = %v", url, err)
	return nil
}

// wsClient serializes writes from several goroutines.
type wsClient struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsClient) send(t *testing.T, msg *protocol.Message, err error) error {
	t.Helper()
	if err != nil {
		t.Fatalf("build message error = %v", err)
	}
	data, _ := msg.Bytes()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// readUntil reads messages until one of type want arrives, collecting
// everything seen on the way.
func readUntil(t *testing.T, ws *websocket.Conn, want protocol.MessageType) (*protocol.Message, []*protocol.Message) {
	t.Helper()
	var seen []*protocol.Message
	ws.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: read error = %v (seen %d messages)", want, err, len(seen))
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			t.Fatalf("ParseMessage() error = %v", err)
		}
		if msg.Type == want {
			return msg, seen
		}
		seen = append(seen, msg)
	}
}

// loudPCM returns n samples of a loud tone as little-endian PCM16.
func loudPCM(n int) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(12000 * math.Sin(2*math.Pi*220*float64(i)/testSampleRate))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

func newPracticeServer(t *testing.T) (*Server, *store.JSONStore) {
	t.Helper()
	st := newJSONStore(t)
	s := New(testOptions(), Deps{
		Store:   st,
		Catalog: session.NewCatalog(append(session.DefaultScenarios(), quickScenario)),
	})
	return s, st
}

func TestPracticeSessionCompletes(t *testing.T) {
	s, st := newPracticeServer(t)
	base := startServer(t, s)

	watcher := dial(t, base+"/ws/watch", nil)
	ws := dial(t, base+"/ws/practice", nil)
	client := &wsClient{ws: ws}

	deadline := time.Now().Add(2 * time.Second)
	for s.Hub().ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	client.send(t, protocol.NewStartMessage(quickScenario.ID, false))
	started, _ := readUntil(t, ws, protocol.TypeStarted)
	startedData, err := started.GetStartedData()
	if err != nil {
		t.Fatalf("GetStartedData() error = %v", err)
	}
	if startedData.SessionID == "" || startedData.TimeLeft != quickScenario.Seconds {
		t.Errorf("started = %+v", startedData)
	}

	stopMic := make(chan struct{})
	defer close(stopMic)
	go func() {
		chunk := loudPCM(320)
		for {
			select {
			case <-stopMic:
				return
			case <-time.After(2 * time.Millisecond):
			}
			if err := client.send(t, protocol.NewMicMessage(chunk, testSampleRate, 1)); err != nil {
				return
			}
		}
	}()

	recMsg, seen := readUntil(t, ws, protocol.TypeRecord)
	rec, err := recMsg.GetRecord()
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if rec.ID == "" {
		t.Error("record has no id")
	}
	if rec.UserID != store.GuestUser || rec.QuestionID != quickScenario.ID {
		t.Errorf("record = %+v", rec)
	}

	scores := 0
	for _, m := range seen {
		if m.Type == protocol.TypeScore {
			scores++
		}
	}
	if scores == 0 {
		t.Error("no live score updates before the record")
	}

	saved, err := st.ListAll(context.Background(), store.GuestUser)
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(saved) != 1 || saved[0].ID != rec.ID {
		t.Errorf("stored = %+v", saved)
	}

	watched, _ := readUntil(t, watcher, protocol.TypeRecord)
	if r, _ := watched.GetRecord(); r == nil || r.ID != rec.ID {
		t.Errorf("watcher record = %+v", r)
	}

	stats := s.GetStats()
	if stats.SessionsStarted != 1 || stats.SessionsCompleted != 1 || stats.AudioChunks == 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestPracticeStopAborts(t *testing.T) {
	s, st := newPracticeServer(t)
	base := startServer(t, s)
	ws := dial(t, base+"/ws/practice", nil)
	client := &wsClient{ws: ws}

	client.send(t, protocol.NewStartMessage("casual", true))
	readUntil(t, ws, protocol.TypeStarted)

	// A second start while running is refused.
	client.send(t, protocol.NewStartMessage("casual", false))
	errMsg, _ := readUntil(t, ws, protocol.TypeError)
	if data, _ := errMsg.GetErrorData(); data == nil || data.Code != protocol.CodeSessionActive {
		t.Errorf("error = %+v, want session_active", data)
	}

	client.send(t, protocol.NewStopMessage())
	errMsg, _ = readUntil(t, ws, protocol.TypeError)
	if data, _ := errMsg.GetErrorData(); data == nil || data.Code != protocol.CodeSessionAborted {
		t.Errorf("error = %+v, want session_aborted", data)
	}

	saved, _ := st.ListAll(context.Background(), store.GuestUser)
	if len(saved) != 0 {
		t.Errorf("aborted session stored %d records", len(saved))
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.ActiveSessions() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if s.ActiveSessions() != 0 {
		t.Errorf("ActiveSessions() = %d after stop", s.ActiveSessions())
	}
}

func TestPracticeProtocolErrors(t *testing.T) {
	s, _ := newPracticeServer(t)
	base := startServer(t, s)
	ws := dial(t, base+"/ws/practice", nil)
	client := &wsClient{ws: ws}

	tests := []struct {
		name string
		send func() error
		code string
	}{
		{"malformed json", func() error {
			client.mu.Lock()
			defer client.mu.Unlock()
			return ws.WriteMessage(websocket.TextMessage, []byte("{"))
		}, protocol.CodeBadMessage},
		{"unknown type", func() error {
			return client.send(t, protocol.NewMessage("dance", nil))
		}, protocol.CodeUnknownType},
		{"unknown scenario", func() error {
			return client.send(t, protocol.NewStartMessage("nope", false))
		}, protocol.CodeUnknownScene},
		{"stop without session", func() error {
			return client.send(t, protocol.NewStopMessage())
		}, protocol.CodeNoSession},
		{"camera without session", func() error {
			return client.send(t, protocol.NewCameraMessage(true))
		}, protocol.CodeNoSession},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.send(); err != nil {
				t.Fatalf("send error = %v", err)
			}
			msg, _ := readUntil(t, ws, protocol.TypeError)
			data, err := msg.GetErrorData()
			if err != nil {
				t.Fatalf("GetErrorData() error = %v", err)
			}
			if data.Code != tt.code {
				t.Errorf("code = %q, want %q", data.Code, tt.code)
			}
		})
	}
}

func TestPracticePing(t *testing.T) {
	s, _ := newPracticeServer(t)
	base := startServer(t, s)
	ws := dial(t, base+"/ws/practice", nil)
	client := &wsClient{ws: ws}

	client.send(t, protocol.NewPingMessage("p1"))
	msg, _ := readUntil(t, ws, protocol.TypePong)
	pong, err := msg.GetPongData()
	if err != nil {
		t.Fatalf("GetPongData() error = %v", err)
	}
	if pong.ID != "p1" || pong.LatencyMs < 0 {
		t.Errorf("pong = %+v", pong)
	}
}

func TestPracticeDisconnectAborts(t *testing.T) {
	s, _ := newPracticeServer(t)
	base := startServer(t, s)
	ws := dial(t, base+"/ws/practice", nil)
	client := &wsClient{ws: ws}

	client.send(t, protocol.NewStartMessage("casual", false))
	readUntil(t, ws, protocol.TypeStarted)
	if s.ActiveSessions() != 1 {
		t.Fatalf("ActiveSessions() = %d, want 1", s.ActiveSessions())
	}

	ws.Close()

	deadline := time.Now().Add(5 * time.Second)
	for s.GetStats().SessionsAborted == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.GetStats().SessionsAborted != 1 {
		t.Errorf("SessionsAborted = %d, want 1", s.GetStats().SessionsAborted)
	}
	if s.ActiveSessions() != 0 {
		t.Errorf("ActiveSessions() = %d after disconnect", s.ActiveSessions())
	}
}

func TestPracticeRequiresAuth(t *testing.T) {
	opts := testOptions()
	opts.AllowGuest = false
	opts.JWTSecret = "secret"
	s := New(opts, Deps{})
	base := startServer(t, s)

	_, resp, err := websocket.DefaultDialer.Dial(base+"/ws/practice", nil)
	if err == nil {
		t.Fatal("Dial() without token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}

	token, _ := IssueToken("secret", "alice", time.Hour)
	ws := dial(t, base+"/ws/practice?token="+token, nil)
	client := &wsClient{ws: ws}
	client.send(t, protocol.NewStartMessage("casual", false))
	msg, _ := readUntil(t, ws, protocol.TypeStarted)
	data, _ := msg.GetStartedData()

	a, ok := s.lookup(data.SessionID)
	if !ok || a.sess.UserID() != "alice" {
		t.Errorf("active session user = %v", a)
	}
}

func TestActiveSessionPeer(t *testing.T) {
	sink := audioio.NewRemoteSource(audioio.DefaultConfig(), nil)
	newPeer := func() *rtc.Peer {
		p, err := rtc.NewPeer(rtc.DefaultConfig(), sink, nil)
		if err != nil {
			t.Fatalf("NewPeer() error = %v", err)
		}
		t.Cleanup(func() { p.Close() })
		return p
	}

	a := &activeSession{}
	first := newPeer()
	if err := a.attachPeer(first); err != nil {
		t.Fatalf("attachPeer() error = %v", err)
	}
	if err := a.attachPeer(newPeer()); !errors.Is(err, errPeerAttached) {
		t.Errorf("second attachPeer() error = %v, want errPeerAttached", err)
	}

	a.closePeer()
	select {
	case <-first.Done():
	default:
		t.Error("closePeer() did not close the attached peer")
	}
	if err := a.attachPeer(newPeer()); !errors.Is(err, rtc.ErrClosed) {
		t.Errorf("attachPeer() after close error = %v, want rtc.ErrClosed", err)
	}
}
