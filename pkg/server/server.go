// Package server exposes rehearsal sessions over HTTP and websockets.
//
// Practice clients connect to /ws/practice, start a session and stream
// microphone audio plus optional camera frames or landmarks; live score
// updates and the final record come back on the same socket. Dashboards
// watch live scores on /ws/watch. History, baseline, feedback and WebRTC
// signalling live under /api.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	fiberws "github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-rehearse/internal/config"
	"github.com/teslashibe/go-rehearse/internal/log"
	"github.com/teslashibe/go-rehearse/pkg/activity"
	"github.com/teslashibe/go-rehearse/pkg/coach"
	"github.com/teslashibe/go-rehearse/pkg/confidence"
	"github.com/teslashibe/go-rehearse/pkg/face"
	"github.com/teslashibe/go-rehearse/pkg/hub"
	"github.com/teslashibe/go-rehearse/pkg/rtc"
	"github.com/teslashibe/go-rehearse/pkg/session"
	"github.com/teslashibe/go-rehearse/pkg/store"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 5 * time.Second

// Options tune the service.
type Options struct {
	Version string

	// JWTSecret verifies HS256 bearer tokens. Empty disables verification.
	JWTSecret string
	// AllowGuest lets unauthenticated callers in as store.GuestUser.
	AllowGuest bool

	// SampleRate is the rate remote audio is normalized to.
	SampleRate int

	Activity activity.Config
	Face     face.Config
	Fusion   confidence.Config
	RTC      rtc.Config

	// Countdown overrides the session timer step. Zero means one second.
	Countdown time.Duration

	// Debug enables request logging.
	Debug bool
}

// DefaultOptions returns guest-friendly defaults.
func DefaultOptions() Options {
	return Options{
		Version:    "dev",
		AllowGuest: true,
		SampleRate: 48000,
		Activity:   activity.DefaultConfig(),
		Face:       face.DefaultConfig(),
		Fusion:     confidence.DefaultConfig(),
		RTC:        rtc.DefaultConfig(),
	}
}

// OptionsFromConfig maps service configuration onto Options.
func OptionsFromConfig(cfg config.Config, version string) Options {
	opts := DefaultOptions()
	opts.Version = version
	opts.JWTSecret = cfg.Server.JWTSecret
	opts.AllowGuest = cfg.Server.AllowGuest
	opts.SampleRate = cfg.Audio.SampleRate
	opts.Debug = cfg.LogLevel == "debug"

	opts.Activity.Threshold = cfg.Audio.Threshold
	opts.Activity.OnsetFrames = cfg.Audio.OnsetFrames
	opts.Activity.SilenceFrames = cfg.Audio.SilenceFrames
	opts.Activity.FrameSize = cfg.Audio.FrameSize

	opts.Face.CenterMin = cfg.Face.CenterMin
	opts.Face.CenterMax = cfg.Face.CenterMax
	opts.Face.MouthOpenThreshold = cfg.Face.MouthOpenThreshold

	opts.Fusion.TickMode = confidence.TickMode(cfg.Fusion.TickMode)
	opts.Fusion.TickInterval = cfg.Fusion.TickInterval

	if cfg.Server.STUNServer != "" {
		opts.RTC.ICEServers = []string{cfg.Server.STUNServer}
	}
	return opts
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Store      store.Store
	Catalog    *session.Catalog
	Coach      *coach.Coach
	Aggregator *session.Aggregator
	// Landmarks locates faces in JPEG frames; nil accepts only
	// client-computed landmarks.
	Landmarks face.LandmarkSource
	Logger    *slog.Logger
}

// Server is the rehearsal HTTP service.
type Server struct {
	app    *fiber.App
	opts   Options
	deps   Deps
	logger *slog.Logger

	watch *hub.Hub
	stats stats

	// Active sessions by session ID.
	mu     sync.RWMutex
	active map[string]*activeSession

	baseCtx context.Context
}

// New creates the server and registers its routes.
func New(opts Options, deps Deps) *Server {
	if deps.Catalog == nil {
		deps.Catalog = session.NewCatalog(session.DefaultScenarios())
	}
	if deps.Coach == nil {
		deps.Coach = coach.New(nil, deps.Logger)
	}
	if deps.Aggregator == nil {
		var baseline session.BaselineSource
		if deps.Store != nil {
			baseline = deps.Store
		}
		deps.Aggregator = session.NewAggregator(baseline, "", deps.Logger)
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = DefaultOptions().SampleRate
	}

	s := &Server{
		opts:    opts,
		deps:    deps,
		logger:  log.Or(deps.Logger, "server"),
		watch:   hub.New("watch", deps.Logger),
		active:  make(map[string]*activeSession),
		baseCtx: context.Background(),
	}

	app := fiber.New(fiber.Config{
		AppName:               "rehearse",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))
	if opts.Debug {
		app.Use(logger.New())
	}

	app.Get("/health", s.handleHealth)
	app.Get("/metrics", s.handleMetrics)

	api := app.Group("/api", s.authenticate)
	api.Get("/scenarios", s.handleScenarios)
	api.Get("/scenarios/:id/prompt", s.handleScenarioPrompt)
	api.Get("/sessions", s.handleSessions)
	api.Get("/sessions/baseline", s.handleBaseline)
	api.Post("/feedback", s.handleFeedback)
	api.Post("/rtc/offer", s.handleRTCOffer)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}, s.authenticate)
	app.Get("/ws/practice", websocket.New(s.handlePractice))
	app.Get("/ws/watch", fiberws.New(s.handleWatch))

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Hub returns the live-score hub.
func (s *Server) Hub() *hub.Hub {
	return s.watch
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the watch hub and serves on ln until ctx is cancelled, then
// aborts active sessions and shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.baseCtx = ctx

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go s.watch.Run(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listener(ln)
	}()
	s.logger.Info("serving", "addr", ln.Addr().String(), "version", s.opts.Version)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.abortAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// handleError renders errors as JSON.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func (s *Server) register(a *activeSession) {
	s.mu.Lock()
	s.active[a.sess.ID()] = a
	s.mu.Unlock()
}

func (s *Server) unregister(a *activeSession) {
	s.mu.Lock()
	delete(s.active, a.sess.ID())
	s.mu.Unlock()
}

func (s *Server) lookup(id string) (*activeSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.active[id]
	return a, ok
}

// ActiveSessions returns the number of running sessions.
func (s *Server) ActiveSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

func (s *Server) abortAll() {
	s.mu.RLock()
	list := make([]*activeSession, 0, len(s.active))
	for _, a := range s.active {
		list = append(list, a)
	}
	s.mu.RUnlock()

	for _, a := range list {
		a.sess.Stop()
	}
}
