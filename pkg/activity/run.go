package activity

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/teslashibe/go-rehearse/pkg/audioio"
)

// Slot holds the most recently published Metrics. One goroutine stores,
// any number load; readers always see a complete snapshot.
type Slot struct {
	p atomic.Pointer[Metrics]
}

// Store publishes m.
func (s *Slot) Store(m Metrics) {
	s.p.Store(&m)
}

// Load returns the latest snapshot, or the zero Metrics before any Store.
func (s *Slot) Load() Metrics {
	if m := s.p.Load(); m != nil {
		return *m
	}
	return Metrics{}
}

// Run captures from src until ctx is done or the source stream ends,
// analyzing one window per hop and calling publish on every change.
//
// If the source cannot start, Run returns an error wrapping
// ErrCaptureUnavailable without touching the detector state, so callers
// may keep reading its all-quiet metrics. The source is stopped on every
// exit path once started.
func (d *Detector) Run(ctx context.Context, src audioio.Source, publish func(Metrics)) error {
	if err := src.Start(ctx); err != nil {
		d.logger.Warn("microphone unavailable, audio activity disabled",
			"backend", src.Name(),
			"error", err,
		)
		return fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	defer src.Stop()
	if ws, ok := src.(audioio.SourceWithStats); ok {
		defer func() {
			st := ws.Stats()
			d.logger.Debug("audio activity loop stopped",
				"backend", st.Backend,
				"chunks", st.ChunksRead,
				"overruns", st.Overruns,
			)
		}()
	}

	framer := audioio.NewFramer(d.cfg.hop())
	stream := src.Stream()

	d.logger.Debug("audio activity loop started",
		"backend", src.Name(),
		"frame_size", d.cfg.FrameSize,
		"hop_size", d.cfg.hop(),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-stream:
			if !ok {
				return nil
			}
			framer.Write(audioio.Downmix(chunk.Samples, chunk.Channels))

			for {
				hop, ok := framer.Next()
				if !ok {
					break
				}
				m, changed := d.Feed(hop)
				if changed && publish != nil {
					publish(m)
				}
			}
		}
	}
}
