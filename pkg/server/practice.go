package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	fiberws "github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-rehearse/pkg/audioio"
	"github.com/teslashibe/go-rehearse/pkg/audioio/opusdec"
	"github.com/teslashibe/go-rehearse/pkg/face"
	"github.com/teslashibe/go-rehearse/pkg/hub"
	"github.com/teslashibe/go-rehearse/pkg/protocol"
	"github.com/teslashibe/go-rehearse/pkg/rtc"
	"github.com/teslashibe/go-rehearse/pkg/session"
	"github.com/teslashibe/go-rehearse/pkg/store"
)

const (
	// writeWait bounds a single websocket write.
	writeWait = 10 * time.Second

	// frameBacklog is how many video frames may queue for face analysis.
	frameBacklog = 4

	// stopWait bounds how long a closing connection waits for its
	// session to tear down.
	stopWait = 5 * time.Second
)

var errPeerAttached = errors.New("a WebRTC peer is already attached to this session")

// activeSession is a running practice session and its inputs.
type activeSession struct {
	sess   *session.Session
	remote *audioio.RemoteSource
	frames chan face.Frame

	mu     sync.Mutex
	peer   *rtc.Peer
	closed bool
}

// attachPeer fails with rtc.ErrClosed once the session has ended.
func (a *activeSession) attachPeer(p *rtc.Peer) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return rtc.ErrClosed
	}
	if a.peer != nil {
		return errPeerAttached
	}
	a.peer = p
	return nil
}

func (a *activeSession) detachPeer(p *rtc.Peer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.peer == p {
		a.peer = nil
	}
}

// closePeer closes the attached peer and refuses later attachments.
func (a *activeSession) closePeer() {
	a.mu.Lock()
	p := a.peer
	a.peer = nil
	a.closed = true
	a.mu.Unlock()
	if p != nil {
		p.Close()
	}
}

// practiceConn is one /ws/practice connection. It owns at most one
// running session at a time. Media arriving outside a session is
// dropped silently, since clients keep streaming briefly after the
// record arrives.
type practiceConn struct {
	s      *Server
	conn   *websocket.Conn
	userID string
	ctx    context.Context
	logger *slog.Logger

	writeMu sync.Mutex
	closed  bool

	mu     sync.Mutex
	active *activeSession
	opus   *opusdec.Decoder
	runs   sync.WaitGroup
}

// handlePractice serves a practice websocket.
func (s *Server) handlePractice(c *websocket.Conn) {
	user, _ := c.Locals(localUser).(string)
	if user == "" {
		user = store.GuestUser
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	p := &practiceConn{
		s:      s,
		conn:   c,
		userID: user,
		ctx:    ctx,
		logger: s.logger.With("user", user),
	}
	p.logger.Info("practice client connected")

	defer func() {
		p.shutdown()
		cancel()
		p.logger.Info("practice client disconnected")
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			p.logger.Debug("practice read ended", "error", err)
			return
		}
		s.stats.messagesReceived.Add(1)
		p.handleMessage(data)
	}
}

// shutdown stops the running session and waits for it to report, so
// nothing writes to the connection once the handler returns.
func (p *practiceConn) shutdown() {
	if a := p.current(); a != nil {
		a.sess.Stop()
	}

	done := make(chan struct{})
	go func() {
		p.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopWait):
		p.logger.Warn("session did not stop in time")
	}

	p.writeMu.Lock()
	p.closed = true
	p.writeMu.Unlock()
}

func (p *practiceConn) current() *activeSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *practiceConn) handleMessage(data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		p.sendError(protocol.CodeBadMessage, err.Error(), false)
		return
	}

	switch msg.Type {
	case protocol.TypeStart:
		p.start(msg)
	case protocol.TypeMic:
		p.mic(msg)
	case protocol.TypeFrame:
		p.frame(msg)
	case protocol.TypeLandmarks:
		p.landmarks(msg)
	case protocol.TypeCamera:
		p.camera(msg)
	case protocol.TypeStop:
		if a := p.requireSession(); a != nil {
			a.sess.Stop()
		}
	case protocol.TypePing:
		var id string
		if ping, err := msg.GetPingData(); err == nil {
			id = ping.ID
		}
		p.send(protocol.NewPongMessage(id, msg.Timestamp, time.Now().UnixMilli()))
	default:
		p.sendError(protocol.CodeUnknownType, "unknown message type "+string(msg.Type), false)
	}
}

func (p *practiceConn) start(msg *protocol.Message) {
	data, err := msg.GetStartData()
	if err != nil {
		p.sendError(protocol.CodeBadMessage, err.Error(), false)
		return
	}
	scenario, ok := p.s.deps.Catalog.Find(data.ScenarioID)
	if !ok {
		p.sendError(protocol.CodeUnknownScene, "unknown scenario "+data.ScenarioID, false)
		return
	}

	p.mu.Lock()
	if p.active != nil {
		p.mu.Unlock()
		p.sendError(protocol.CodeSessionActive, "a session is already running", false)
		return
	}

	audioCfg := audioio.DefaultConfig()
	audioCfg.SampleRate = p.s.opts.SampleRate
	remote := audioio.NewRemoteSource(audioCfg, p.logger)

	a := &activeSession{
		remote: remote,
		frames: make(chan face.Frame, frameBacklog),
	}

	var recorder session.Recorder
	if p.s.deps.Store != nil {
		recorder = p.s.deps.Store
	}
	a.sess = session.New(p.userID, scenario, session.Deps{
		Audio:         remote,
		Frames:        a.frames,
		Landmarks:     p.s.deps.Landmarks,
		Aggregator:    p.s.deps.Aggregator,
		Store:         recorder,
		Activity:      p.s.opts.Activity,
		Face:          p.s.opts.Face,
		Fusion:        p.s.opts.Fusion,
		CameraEnabled: data.Camera,
		Countdown:     p.s.opts.Countdown,
		OnUpdate:      p.onUpdate,
		OnNotice: func(notice string) {
			p.sendError(protocol.CodeCaptureFailed, notice, false)
		},
		Logger: p.logger,
	})
	p.active = a
	p.opus = nil
	p.runs.Add(1)
	p.mu.Unlock()

	p.s.register(a)
	p.s.stats.sessionsStarted.Add(1)
	p.logger.Info("session started", "session", a.sess.ID(), "scenario", scenario.ID, "camera", data.Camera)

	p.send(protocol.NewStartedMessage(a.sess.ID(), scenario))
	go p.run(a)
}

// run drives a session to completion and reports the outcome.
func (p *practiceConn) run(a *activeSession) {
	defer p.runs.Done()

	rec, err := a.sess.Run(p.ctx)

	p.s.unregister(a)
	a.closePeer()
	p.mu.Lock()
	if p.active == a {
		p.active = nil
	}
	p.mu.Unlock()

	if err != nil && rec.ID == "" {
		p.s.stats.sessionsAborted.Add(1)
		p.logger.Info("session aborted", "session", a.sess.ID(), "error", err)
		p.sendError(protocol.CodeSessionAborted, "session stopped before the timer ended", false)
		return
	}

	p.s.stats.sessionsCompleted.Add(1)
	msg, merr := protocol.NewRecordMessage(rec)
	p.send(msg, merr)
	if merr == nil {
		p.publish(msg)
	}

	if err != nil {
		p.s.stats.saveFailures.Add(1)
		p.logger.Error("session record not saved", "session", rec.ID, "error", err)
		p.sendError(protocol.CodeSaveFailed, "the session could not be saved", false)
	}
}

func (p *practiceConn) onUpdate(u session.Update) {
	msg, err := protocol.NewScoreMessage(u)
	p.send(msg, err)
	if err == nil {
		p.publish(msg)
	}
}

func (p *practiceConn) publish(msg *protocol.Message) {
	if err := p.s.watch.Publish(p.userID, msg); err != nil {
		p.logger.Debug("watch publish failed", "error", err)
	}
}

func (p *practiceConn) requireSession() *activeSession {
	a := p.current()
	if a == nil {
		p.sendError(protocol.CodeNoSession, "no session is running", false)
	}
	return a
}

func (p *practiceConn) mic(msg *protocol.Message) {
	a := p.current()
	if a == nil {
		return
	}
	data, err := msg.GetMicData()
	if err != nil {
		p.sendError(protocol.CodeBadMessage, err.Error(), false)
		return
	}
	raw, err := data.DecodeMicData()
	if err != nil {
		p.sendError(protocol.CodeBadMessage, "mic data is not base64", false)
		return
	}

	switch data.Format {
	case "", "pcm16":
		err = a.remote.PushPCM16(raw, data.SampleRate, data.Channels)
	case "opus":
		var dec *opusdec.Decoder
		dec, err = p.opusDecoder(data.Channels)
		if err == nil {
			var chunk audioio.AudioChunk
			chunk, err = dec.Decode(raw)
			if err == nil {
				err = a.remote.Push(chunk)
			}
		}
	default:
		p.sendError(protocol.CodeBadMessage, "unsupported mic format "+data.Format, false)
		return
	}

	p.s.stats.audioChunks.Add(1)
	if err != nil && !errors.Is(err, audioio.ErrNotRunning) {
		p.logger.Debug("mic chunk dropped", "format", data.Format, "error", err)
	}
}

func (p *practiceConn) opusDecoder(channels int) (*opusdec.Decoder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.opus == nil {
		dec, err := opusdec.New(channels)
		if err != nil {
			return nil, err
		}
		p.opus = dec
	}
	return p.opus, nil
}

func (p *practiceConn) frame(msg *protocol.Message) {
	a := p.current()
	if a == nil {
		return
	}
	data, err := msg.GetFrameData()
	if err != nil {
		p.sendError(protocol.CodeBadMessage, err.Error(), false)
		return
	}
	if data.Format != "" && data.Format != "jpeg" {
		p.sendError(protocol.CodeBadMessage, "unsupported frame format "+data.Format, false)
		return
	}
	img, err := data.DecodeFrameData()
	if err != nil {
		p.sendError(protocol.CodeBadMessage, "frame data is not base64", false)
		return
	}
	p.queueFrame(a, face.Frame{JPEG: img})
}

func (p *practiceConn) landmarks(msg *protocol.Message) {
	a := p.current()
	if a == nil {
		return
	}
	data, err := msg.GetLandmarksData()
	if err != nil {
		p.sendError(protocol.CodeBadMessage, err.Error(), false)
		return
	}

	frame := face.Frame{Precomputed: true}
	if data.Found {
		frame.Faces = []face.Face{{
			Score: 1,
			Landmarks: face.Landmarks{
				Nose:  face.Point(data.Nose),
				Mouth: [2]face.Point{face.Point(data.Mouth[0]), face.Point(data.Mouth[1])},
			},
		}}
	}
	p.queueFrame(a, frame)
}

// queueFrame hands a frame to the session, dropping it when face
// analysis is behind.
func (p *practiceConn) queueFrame(a *activeSession, f face.Frame) {
	p.s.stats.framesReceived.Add(1)
	select {
	case a.frames <- f:
	default:
		p.logger.Debug("video frame dropped")
	}
}

func (p *practiceConn) camera(msg *protocol.Message) {
	a := p.requireSession()
	if a == nil {
		return
	}
	data, err := msg.GetCameraData()
	if err != nil {
		p.sendError(protocol.CodeBadMessage, err.Error(), false)
		return
	}
	a.sess.SetCameraEnabled(data.Enabled)
}

// send writes a message unless the connection has been released.
func (p *practiceConn) send(msg *protocol.Message, err error) {
	if err != nil {
		p.logger.Error("encode message", "error", err)
		return
	}
	data, err := msg.Bytes()
	if err != nil {
		p.logger.Error("encode message", "type", msg.Type, "error", err)
		return
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.closed {
		return
	}
	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		p.logger.Debug("practice write failed", "type", msg.Type, "error", err)
		return
	}
	p.s.stats.messagesSent.Add(1)
}

func (p *practiceConn) sendError(code, message string, fatal bool) {
	p.send(protocol.NewErrorMessage(code, message, fatal))
}

// handleWatch streams the caller's live scores and records.
func (s *Server) handleWatch(c *fiberws.Conn) {
	user, _ := c.Locals(localUser).(string)
	if user == "" {
		user = store.GuestUser
	}
	client, err := hub.NewClient(s.watch, c, user)
	if err != nil {
		s.logger.Debug("watch client rejected", "error", err)
		return
	}
	client.Run()
}
