package audioio

import (
	"context"
	"errors"
	"io"
)

// ErrNotRunning is returned when pushing into a source that is not capturing.
var ErrNotRunning = errors.New("audioio: source not running")

// AudioChunk represents a chunk of audio data.
type AudioChunk struct {
	// Samples contains interleaved PCM16 samples.
	Samples []int16

	// SampleRate is the sample rate of this chunk.
	SampleRate int

	// Channels is the number of channels in this chunk.
	Channels int
}

// Bytes returns the chunk as little-endian PCM16 bytes.
func (c *AudioChunk) Bytes() []byte {
	return SamplesToBytes(c.Samples)
}

// FromBytes populates the chunk from raw little-endian PCM16 bytes.
func (c *AudioChunk) FromBytes(data []byte, sampleRate, channels int) {
	c.SampleRate = sampleRate
	c.Channels = channels
	c.Samples = BytesToSamples(data)
}

// Duration returns the duration of this audio chunk in seconds.
func (c *AudioChunk) Duration() float64 {
	if c.SampleRate == 0 || c.Channels == 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate*c.Channels)
}

// Source is a microphone feed: the browser's pushed audio in a session,
// or a synthetic signal offline.
//
// Chunks are delivered on Stream (or pulled with Read, which returns
// io.EOF once stopped). Stop may be called repeatedly; a closed source
// cannot be restarted.
type Source interface {
	Start(ctx context.Context) error
	Stop() error
	Read(ctx context.Context) (AudioChunk, error)
	Stream() <-chan AudioChunk
	Config() Config

	// Name is the backend name, "remote" or "mock".
	Name() string

	io.Closer
}

// SourceStats counts delivered chunks. Overruns are chunks dropped
// because the consumer fell behind.
type SourceStats struct {
	ChunksRead  int64  `json:"chunks_read"`
	SamplesRead int64  `json:"samples_read"`
	Overruns    int64  `json:"overruns"`
	Running     bool   `json:"running"`
	Backend     string `json:"backend"`
}

// SourceWithStats is a Source that reports SourceStats.
type SourceWithStats interface {
	Source
	Stats() SourceStats
}
