// Package session runs one timed rehearsal and aggregates it into a
// Record.
//
// A Session owns three loops (audio activity, face signals, confidence
// fusion) plus a countdown. When the countdown reaches zero every loop is
// stopped and joined before the engine state is read, so aggregation
// never races a late tick.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-rehearse/pkg/activity"
	"github.com/teslashibe/go-rehearse/pkg/audioio"
	"github.com/teslashibe/go-rehearse/pkg/confidence"
	"github.com/teslashibe/go-rehearse/pkg/face"
)

// Lifecycle states.
const (
	StateIdle     = "idle"
	StateRunning  = "running"
	StateFinished = "finished"
	StateAborted  = "aborted"
)

const (
	eventStart  = "start"
	eventFinish = "finish"
	eventAbort  = "abort"
)

var (
	// ErrAlreadyStarted is returned when Run is called twice.
	ErrAlreadyStarted = errors.New("session: already started")
	// ErrAborted is returned when a session ends before its timer.
	ErrAborted = errors.New("session: aborted")
)

// Recorder persists finished records.
type Recorder interface {
	Save(ctx context.Context, userID string, r Record) error
}

// Update is a live view of a running session.
type Update struct {
	SessionID     string           `json:"session_id"`
	Score         int              `json:"score"`
	TimeLeft      int              `json:"time_left"`
	Audio         activity.Metrics `json:"audio"`
	Face          face.Metrics     `json:"face"`
	CameraEnabled bool             `json:"camera_enabled"`
}

// Deps are the collaborators and tuning of a session.
type Deps struct {
	// Audio is the microphone. The session starts it and closes it on
	// every exit path.
	Audio audioio.Source

	// Frames carries video frames; nil runs without a camera.
	Frames <-chan face.Frame
	// Landmarks locates faces in JPEG frames; nil accepts only
	// precomputed landmarks.
	Landmarks face.LandmarkSource

	Aggregator *Aggregator
	Store      Recorder

	Activity activity.Config
	Face     face.Config
	Fusion   confidence.Config

	// CameraEnabled is the initial camera toggle.
	CameraEnabled bool

	// Countdown is the timer step; default one second.
	Countdown time.Duration

	// OnUpdate receives live updates when the score or any label
	// changes, and on countdown steps. It is called from a single
	// delivery goroutine; while it blocks, updates coalesce into the
	// latest state and the scoring loops keep running.
	OnUpdate func(Update)
	// OnNotice receives user-facing warnings, such as a denied microphone.
	OnNotice func(msg string)

	Logger *slog.Logger
}

// Session is one timed rehearsal.
type Session struct {
	id       string
	userID   string
	scenario Scenario
	deps     Deps
	logger   *slog.Logger

	machine   *fsm.FSM
	detector  *activity.Detector
	extractor *face.Extractor
	engine    atomic.Pointer[confidence.Engine]

	audioSlot activity.Slot
	faceSlot  face.Slot
	video     chan struct{}

	timeLeft  atomic.Int64
	lastScore atomic.Int64
	pending   chan struct{}

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
	record   *Record
}

// New prepares a session for userID on scenario.
func New(userID string, scenario Scenario, deps Deps) *Session {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Countdown <= 0 {
		deps.Countdown = time.Second
	}
	if deps.Aggregator == nil {
		deps.Aggregator = NewAggregator(nil, "", deps.Logger)
	}

	if err := deps.Fusion.Validate(); err != nil {
		deps.Logger.Warn("invalid fusion config, using defaults", "error", err)
		deps.Fusion = confidence.DefaultConfig()
	}

	id := uuid.NewString()
	logger := deps.Logger.With("component", "session", "session_id", id, "user", userID)

	s := &Session{
		id:        id,
		userID:    userID,
		scenario:  scenario,
		deps:      deps,
		logger:    logger,
		detector:  activity.NewDetector(deps.Activity, deps.Logger),
		extractor: face.NewExtractor(deps.Face, deps.Logger),
		video:     make(chan struct{}, 1),
		pending:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	s.extractor.SetEnabled(deps.CameraEnabled)
	s.timeLeft.Store(int64(scenario.Duration() / time.Second))
	s.lastScore.Store(-1)

	s.machine = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventStart, Src: []string{StateIdle}, Dst: StateRunning},
			{Name: eventFinish, Src: []string{StateRunning}, Dst: StateFinished},
			{Name: eventAbort, Src: []string{StateIdle, StateRunning}, Dst: StateAborted},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logger.Debug("session state", "from", e.Src, "to", e.Dst)
			},
		},
	)

	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// UserID returns the owner.
func (s *Session) UserID() string { return s.userID }

// Scenario returns the scenario being rehearsed.
func (s *Session) Scenario() Scenario { return s.scenario }

// State returns the lifecycle state.
func (s *Session) State() string { return s.machine.Current() }

// TimeLeft returns the remaining seconds.
func (s *Session) TimeLeft() int { return int(s.timeLeft.Load()) }

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} { return s.done }

// Record returns the finished record, or nil.
func (s *Session) Record() *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record
}

// SetCameraEnabled toggles face analysis mid-session.
func (s *Session) SetCameraEnabled(enabled bool) {
	s.faceSlot.Store(s.extractor.SetEnabled(enabled))
	s.emit()
}

// Stop aborts a running session. It is safe to call at any time.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		return
	}
	if s.machine.Can(eventAbort) {
		_ = s.machine.Event(context.Background(), eventAbort)
	}
}

// Run executes the session until its timer expires, ctx is cancelled, or
// Stop is called. On expiry the record is aggregated, saved, and returned;
// a save failure is returned alongside the record.
func (s *Session) Run(ctx context.Context) (Record, error) {
	defer s.doneOnce.Do(func() { close(s.done) })
	if s.deps.Audio != nil {
		defer s.deps.Audio.Close()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Stop holds s.mu too, so it either aborts before the start event or
	// sees the cancel func.
	s.mu.Lock()
	if s.machine.Current() == StateAborted {
		s.mu.Unlock()
		return Record{}, ErrAborted
	}
	if err := s.machine.Event(ctx, eventStart); err != nil {
		s.mu.Unlock()
		return Record{}, fmt.Errorf("%w: %v", ErrAlreadyStarted, err)
	}
	s.cancel = cancel
	s.mu.Unlock()

	start := time.Now()
	engine := confidence.NewEngine(s.deps.Fusion, start)
	s.engine.Store(engine)

	s.logger.Info("session started",
		"scenario", s.scenario.ID,
		"duration", s.scenario.Duration(),
		"camera", s.extractor.Enabled(),
	)

	g, gctx := errgroup.WithContext(runCtx)
	s.startLoops(gctx, g, engine)

	expired := s.countdown(runCtx)

	// Stop every loop, then read.
	cancel()
	if err := g.Wait(); err != nil {
		s.logger.Warn("session loop failed", "error", err)
	}
	if expired {
		s.flushUpdate()
	}

	if !expired {
		s.mu.Lock()
		_ = s.machine.Event(context.Background(), eventAbort)
		s.mu.Unlock()
		s.logger.Info("session aborted", "elapsed", time.Since(start).Round(time.Millisecond))
		return Record{}, ErrAborted
	}

	rec := s.deps.Aggregator.Finalize(context.WithoutCancel(ctx), Final{
		UserID:        s.userID,
		Scenario:      s.scenario,
		Engine:        engine.State(),
		Audio:         s.detector.Metrics(),
		AudioStats:    s.detector.Stats(),
		FaceStats:     s.extractor.Stats(),
		CameraEnabled: s.extractor.Enabled(),
		EndedAt:       time.Now(),
	})

	s.mu.Lock()
	s.record = &rec
	s.mu.Unlock()

	_ = s.machine.Event(context.Background(), eventFinish)
	s.logger.Info("session finished",
		"avg", rec.AvgConfidence,
		"min", rec.MinConfidence,
		"silence_ratio", rec.SilenceRatio,
		"never_spoke", rec.NeverSpoke,
	)

	if s.deps.Store != nil {
		if err := s.deps.Store.Save(context.WithoutCancel(ctx), s.userID, rec); err != nil {
			return rec, fmt.Errorf("save record: %w", err)
		}
	}
	return rec, nil
}

func (s *Session) startLoops(ctx context.Context, g *errgroup.Group, engine *confidence.Engine) {
	if s.deps.Audio != nil {
		g.Go(func() error {
			err := s.detector.Run(ctx, s.deps.Audio, func(m activity.Metrics) {
				s.audioSlot.Store(m)
				s.emit()
			})
			if errors.Is(err, activity.ErrCaptureUnavailable) {
				s.notice("Microphone access is unavailable; the session continues as silence.")
				return nil
			}
			return err
		})
	} else {
		s.notice("No microphone attached; the session continues as silence.")
	}

	if s.deps.Frames != nil {
		g.Go(func() error {
			return s.extractor.Run(ctx, s.deps.Frames, s.deps.Landmarks, func(m face.Metrics, changed bool) {
				if changed {
					s.faceSlot.Store(m)
					s.emit()
				}
				select {
				case s.video <- struct{}{}:
				default:
				}
			})
		})
	}

	runner := confidence.NewRunner(engine, confidence.Sources{
		Audio:       &s.audioSlot,
		Face:        &s.faceSlot,
		FaceEnabled: s.extractor.Enabled,
		VideoFrames: s.videoFrames(),
	}, func(snap confidence.Snapshot) {
		if int64(snap.Score) != s.lastScore.Swap(int64(snap.Score)) {
			s.emit()
		}
	}, s.deps.Logger)
	g.Go(func() error { return runner.Run(ctx) })

	if s.deps.OnUpdate != nil {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-s.pending:
					s.deliver()
				}
			}
		})
	}
}

func (s *Session) videoFrames() <-chan struct{} {
	if s.deps.Frames == nil {
		return nil
	}
	return s.video
}

// countdown steps the timer and reports whether it expired.
func (s *Session) countdown(ctx context.Context) bool {
	if s.timeLeft.Load() <= 0 {
		return true
	}

	ticker := time.NewTicker(s.deps.Countdown)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			left := s.timeLeft.Add(-1)
			s.emit()
			if left <= 0 {
				return true
			}
		}
	}
}

// emit marks the live state dirty. It never blocks: the delivery loop
// reads the latest state when it next runs.
func (s *Session) emit() {
	if s.deps.OnUpdate == nil {
		return
	}
	select {
	case s.pending <- struct{}{}:
	default:
	}
}

// flushUpdate delivers a pending update left behind by the delivery loop.
func (s *Session) flushUpdate() {
	select {
	case <-s.pending:
		s.deliver()
	default:
	}
}

func (s *Session) deliver() {
	score := 0
	if e := s.engine.Load(); e != nil {
		score = e.Score()
	}
	s.deps.OnUpdate(Update{
		SessionID:     s.id,
		Score:         score,
		TimeLeft:      int(s.timeLeft.Load()),
		Audio:         s.audioSlot.Load(),
		Face:          s.faceSlot.Load(),
		CameraEnabled: s.extractor.Enabled(),
	})
}

func (s *Session) notice(msg string) {
	s.logger.Warn("session notice", "message", msg)
	if s.deps.OnNotice != nil {
		s.deps.OnNotice(msg)
	}
}
