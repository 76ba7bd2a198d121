// Package activity turns microphone audio into a debounced speaking flag
// and pause counters.
//
// Each analysis tick computes the RMS of the most recent window of samples.
// A run of loud ticks longer than OnsetFrames marks the speaker as speaking;
// a run of quiet ticks longer than SilenceFrames marks them silent and
// counts a long pause on every tick the quiet run continues.
package activity

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// ErrCaptureUnavailable is returned when the microphone cannot be opened.
// The detector stays in its initial all-quiet state.
var ErrCaptureUnavailable = errors.New("activity: capture unavailable")

// Metrics is the observable detector output.
type Metrics struct {
	Speaking       bool   `json:"is_speaking"`
	LongPauseCount uint32 `json:"long_pauses"`
	SilenceCount   uint32 `json:"silence_count"`
	EverSpoke      bool   `json:"ever_spoke"`
	// SpeechBursts counts transitions into speaking.
	SpeechBursts uint32 `json:"speech_bursts"`
}

// Stats are cumulative counters over every analysis tick.
type Stats struct {
	Frames     int64 `json:"frames"`
	LoudFrames int64 `json:"loud_frames"`
	// VolumeMean and VolumeVariance are over per-tick RMS values.
	VolumeMean     float64 `json:"volume_mean"`
	VolumeVariance float64 `json:"volume_variance"`
}

// Config tunes the detector.
type Config struct {
	// Threshold is the normalized RMS above which a tick is loud.
	Threshold float64 `yaml:"threshold" json:"threshold"`

	// OnsetFrames is the loud run length that must be exceeded to speak.
	OnsetFrames int `yaml:"onset_frames" json:"onset_frames"`

	// SilenceFrames is the quiet run length that must be exceeded for a
	// long pause.
	SilenceFrames int `yaml:"silence_frames" json:"silence_frames"`

	// FrameSize is the analysis window in samples.
	FrameSize int `yaml:"frame_size" json:"frame_size"`

	// HopSize is the number of new samples between analysis ticks. A hop
	// smaller than FrameSize gives overlapping windows. Zero means
	// FrameSize.
	HopSize int `yaml:"hop_size" json:"hop_size"`
}

// DefaultConfig returns the reference tuning: a 2048-sample window
// analyzed about 60 times per second at 48kHz.
func DefaultConfig() Config {
	return Config{
		Threshold:     0.035,
		OnsetFrames:   6,
		SilenceFrames: 20,
		FrameSize:     2048,
		HopSize:       800,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Threshold <= 0 || c.Threshold >= 1 {
		return fmt.Errorf("threshold must be in (0,1), got %v", c.Threshold)
	}
	if c.OnsetFrames < 0 || c.SilenceFrames < 0 {
		return fmt.Errorf("onset_frames and silence_frames must not be negative")
	}
	if c.FrameSize <= 0 {
		return fmt.Errorf("frame_size must be positive, got %d", c.FrameSize)
	}
	if c.HopSize < 0 || c.HopSize > c.FrameSize {
		return fmt.Errorf("hop_size must be in [0,frame_size], got %d", c.HopSize)
	}
	return nil
}

func (c *Config) hop() int {
	if c.HopSize <= 0 {
		return c.FrameSize
	}
	return c.HopSize
}

// RMS returns the root mean square of PCM16 samples normalized to [0,1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Detector is the audio activity state machine. It is safe for concurrent
// use: one goroutine processes frames while others read snapshots.
type Detector struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	loudRun  int
	quietRun int
	metrics  Metrics
	last     Metrics
	stats    Stats
	volumeM2 float64
	window   []int16
}

// NewDetector creates a detector. Invalid configs fall back to defaults.
func NewDetector(cfg Config, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		logger.Warn("invalid activity config, using defaults", "error", err)
		cfg = DefaultConfig()
	}
	return &Detector{
		cfg:    cfg,
		logger: logger.With("component", "activity"),
		window: make([]int16, cfg.FrameSize),
	}
}

// Config returns the detector configuration.
func (d *Detector) Config() Config {
	return d.cfg
}

// Process runs one analysis tick over a complete frame and reports whether
// any observable metric changed since the last reported change.
func (d *Detector) Process(frame []int16) (Metrics, bool) {
	return d.ProcessLevel(RMS(frame))
}

// ProcessLevel runs one analysis tick for a precomputed RMS level.
func (d *Detector) ProcessLevel(rms float64) (Metrics, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.observeVolume(rms)

	if rms > d.cfg.Threshold {
		d.loudRun++
		d.quietRun = 0
		d.metrics.EverSpoke = true
		d.stats.LoudFrames++
	} else {
		d.quietRun++
		d.loudRun = 0
	}

	if d.loudRun > d.cfg.OnsetFrames {
		if !d.metrics.Speaking {
			d.metrics.SpeechBursts++
		}
		d.metrics.Speaking = true
	}

	if d.quietRun > d.cfg.SilenceFrames {
		d.metrics.Speaking = false
		d.metrics.LongPauseCount++
		d.metrics.SilenceCount++
	}

	changed := d.metrics != d.last
	if changed {
		d.last = d.metrics
	}
	return d.metrics, changed
}

// Feed appends hop-sized mono input to the sliding window and analyzes it.
// len(hop) should equal the configured hop size.
func (d *Detector) Feed(hop []int16) (Metrics, bool) {
	d.mu.Lock()
	n := len(hop)
	if n >= len(d.window) {
		copy(d.window, hop[n-len(d.window):])
	} else {
		copy(d.window, d.window[n:])
		copy(d.window[len(d.window)-n:], hop)
	}
	rms := RMS(d.window)
	d.mu.Unlock()

	return d.ProcessLevel(rms)
}

// observeVolume folds one RMS value into the running mean and variance
// (Welford). Callers hold d.mu.
func (d *Detector) observeVolume(rms float64) {
	d.stats.Frames++
	delta := rms - d.stats.VolumeMean
	d.stats.VolumeMean += delta / float64(d.stats.Frames)
	d.volumeM2 += delta * (rms - d.stats.VolumeMean)
	d.stats.VolumeVariance = d.volumeM2 / float64(d.stats.Frames)
}

// Metrics returns the current output.
func (d *Detector) Metrics() Metrics {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.metrics
}

// Stats returns cumulative counters.
func (d *Detector) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Reset returns the detector to its initial state.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.loudRun, d.quietRun = 0, 0
	d.metrics, d.last = Metrics{}, Metrics{}
	d.stats, d.volumeM2 = Stats{}, 0
	clear(d.window)
}
