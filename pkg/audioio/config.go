// Package audioio provides the microphone capture abstraction used by the
// activity detector.
//
// Two backends exist:
//   - Remote: PCM pushed in from a websocket or WebRTC peer
//   - Mock: synthetic audio for tests and the simulate command
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendRemote receives audio pushed by a network client.
	BackendRemote Backend = "remote"
	// BackendMock generates synthetic audio.
	BackendMock Backend = "mock"
)

// Config holds audio configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "remote"
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the rate chunks are delivered at, in Hz.
	// Remote input at another rate is resampled.
	// Default: 48000 (browser and Opus native rate)
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of delivered channels. Only mono is analyzed.
	// Default: 1
	Channels int `yaml:"channels" json:"channels"`

	// BufferDuration is the size of generated chunks (mock backend).
	// Default: 20ms
	BufferDuration time.Duration `yaml:"buffer_duration" json:"buffer_duration"`

	// QueueDepth is the capacity of the chunk stream. Chunks arriving
	// while the queue is full are dropped and counted as overruns.
	// Default: 64
	QueueDepth int `yaml:"queue_depth" json:"queue_depth"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendRemote,
		SampleRate:     48000,
		Channels:       1,
		BufferDuration: 20 * time.Millisecond,
		QueueDepth:     64,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	if c.QueueDepth <= 0 {
		return fmt.Errorf("queue_depth must be positive, got %d", c.QueueDepth)
	}
	return nil
}

// BufferSize returns the number of samples per generated buffer.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}
