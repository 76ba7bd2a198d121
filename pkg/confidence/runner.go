package confidence

import (
	"context"
	"log/slog"
	"time"

	"github.com/teslashibe/go-rehearse/pkg/activity"
	"github.com/teslashibe/go-rehearse/pkg/face"
)

// Sources are where the runner reads detector snapshots each tick.
type Sources struct {
	Audio *activity.Slot
	Face  *face.Slot

	// FaceEnabled reports the camera toggle. Nil means always enabled.
	FaceEnabled func() bool

	// VideoFrames signals each processed video frame. Required for
	// TickVideo.
	VideoFrames <-chan struct{}
}

// Runner drives an Engine from published detector snapshots.
type Runner struct {
	engine  *Engine
	sources Sources
	publish func(Snapshot)
	logger  *slog.Logger
	now     func() time.Time
}

// NewRunner creates a runner. publish may be nil.
func NewRunner(engine *Engine, sources Sources, publish func(Snapshot), logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if sources.Audio == nil {
		sources.Audio = &activity.Slot{}
	}
	if sources.Face == nil {
		sources.Face = &face.Slot{}
	}
	return &Runner{
		engine:  engine,
		sources: sources,
		publish: publish,
		logger:  logger.With("component", "confidence"),
		now:     time.Now,
	}
}

// Engine returns the driven engine.
func (r *Runner) Engine() *Engine {
	return r.engine
}

// Run ticks until ctx is done. When Run returns no further ticks happen,
// so the engine state can be read without racing the loop.
func (r *Runner) Run(ctx context.Context) error {
	cfg := r.engine.Config()

	if cfg.TickMode == TickVideo {
		if r.sources.VideoFrames == nil {
			r.logger.Warn("video tick mode without a frame source, falling back to fixed ticks")
		} else {
			r.logger.Warn("confidence ticks are driven by video frames; score stalls while no frames arrive")
			return r.runVideo(ctx)
		}
	}
	return r.runFixed(ctx, cfg.TickInterval)
}

func (r *Runner) runFixed(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *Runner) runVideo(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-r.sources.VideoFrames:
			if !ok {
				<-ctx.Done()
				return nil
			}
			r.tick()
		}
	}
}

func (r *Runner) tick() {
	in := Inputs{
		Audio:       r.sources.Audio.Load(),
		Face:        r.sources.Face.Load(),
		FaceEnabled: r.sources.FaceEnabled == nil || r.sources.FaceEnabled(),
	}
	snap := r.engine.Tick(in, r.now())
	if r.publish != nil {
		r.publish(snap)
	}
}
