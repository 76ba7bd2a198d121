package audioio

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// RemoteSource is a Source fed by a network peer. Transport handlers call
// Push with whatever PCM the client sends; the source normalizes it to mono
// at the configured rate and queues it for the detector.
//
// Push never blocks. When the consumer falls behind, chunks are dropped and
// counted as overruns.
type RemoteSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan AudioChunk
	unwatch  func() bool

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

// NewRemoteSource creates a push-fed source.
func NewRemoteSource(cfg Config, logger *slog.Logger) *RemoteSource {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultConfig().QueueDepth
	}
	cfg.Channels = 1

	return &RemoteSource{
		cfg:      cfg,
		logger:   logger,
		streamCh: make(chan AudioChunk, cfg.QueueDepth),
	}
}

// Start marks the source as capturing. Pushes before Start are rejected.
func (r *RemoteSource) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return io.ErrClosedPipe
	}
	if r.running {
		return nil
	}
	r.running = true
	r.streamCh = make(chan AudioChunk, r.cfg.QueueDepth)

	r.unwatch = context.AfterFunc(ctx, func() { r.Stop() })

	r.logger.Debug("remote audio source started", "sample_rate", r.cfg.SampleRate)
	return nil
}

// Push queues a chunk received from the peer.
func (r *RemoteSource) Push(chunk AudioChunk) error {
	if len(chunk.Samples) == 0 {
		return nil
	}
	if chunk.Channels == 0 {
		chunk.Channels = 1
	}
	norm := Normalize(chunk, r.cfg.SampleRate)

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return ErrNotRunning
	}

	select {
	case r.streamCh <- norm:
		r.chunksRead.Add(1)
		r.samplesRead.Add(int64(len(norm.Samples)))
	default:
		r.overruns.Add(1)
	}
	return nil
}

// PushPCM16 queues raw little-endian PCM16 bytes.
func (r *RemoteSource) PushPCM16(data []byte, sampleRate, channels int) error {
	var chunk AudioChunk
	chunk.FromBytes(data, sampleRate, channels)
	return r.Push(chunk)
}

// Stop halts capture and closes the stream.
func (r *RemoteSource) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return nil
	}
	r.running = false
	close(r.streamCh)
	if r.unwatch != nil {
		r.unwatch()
		r.unwatch = nil
	}

	r.logger.Debug("remote audio source stopped",
		"chunks", r.chunksRead.Load(),
		"overruns", r.overruns.Load(),
	)
	return nil
}

// Read reads the next audio chunk.
func (r *RemoteSource) Read(ctx context.Context) (AudioChunk, error) {
	ch := r.Stream()
	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-ch:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Stream returns the audio chunk channel.
func (r *RemoteSource) Stream() <-chan AudioChunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streamCh
}

// Config returns the audio configuration.
func (r *RemoteSource) Config() Config {
	return r.cfg
}

// Name returns "remote".
func (r *RemoteSource) Name() string {
	return "remote"
}

// Close stops the source permanently.
func (r *RemoteSource) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	return r.Stop()
}

// Stats returns source statistics.
func (r *RemoteSource) Stats() SourceStats {
	r.mu.Lock()
	running := r.running
	r.mu.Unlock()

	return SourceStats{
		ChunksRead:  r.chunksRead.Load(),
		SamplesRead: r.samplesRead.Load(),
		Overruns:    r.overruns.Load(),
		Running:     running,
		Backend:     "remote",
	}
}

var _ SourceWithStats = (*RemoteSource)(nil)
