package face

import (
	"context"
	"sync/atomic"
)

// Slot holds the most recently published Metrics.
type Slot struct {
	p atomic.Pointer[Metrics]
}

// Store publishes m.
func (s *Slot) Store(m Metrics) {
	s.p.Store(&m)
}

// Load returns the latest snapshot, or Unknown before any Store.
func (s *Slot) Load() Metrics {
	if m := s.p.Load(); m != nil {
		return *m
	}
	return Unknown
}

// Observer receives the extractor output after every processed frame.
type Observer func(m Metrics, changed bool)

// Run consumes frames until ctx is done or frames is closed. JPEG frames
// go through src; a nil src marks the extractor unavailable on the first
// such frame. Detection errors are treated as a frame without a face.
func (e *Extractor) Run(ctx context.Context, frames <-chan Frame, src LandmarkSource, observe Observer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			m, changed := e.process(frame, src)
			if observe != nil {
				observe(m, changed)
			}
		}
	}
}

func (e *Extractor) process(frame Frame, src LandmarkSource) (Metrics, bool) {
	if !e.Enabled() {
		return Unknown, false
	}

	faces := frame.Faces
	if !frame.Precomputed {
		if src == nil {
			e.MarkUnavailable(ErrModelUnavailable)
			return Unknown, false
		}
		var err error
		faces, err = src.Detect(frame.JPEG)
		if err != nil {
			e.logger.Debug("face detection miss", "error", err)
			faces = nil
		}
	}

	if f := SelectPrimary(faces); f != nil {
		return e.Observe(&f.Landmarks)
	}
	return e.Observe(nil)
}
