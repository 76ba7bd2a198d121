// Package face derives coarse engagement signals from facial landmarks:
// eye contact (is the nose near the horizontal center of the frame) and
// expressiveness (are two vertically separated mouth points apart).
//
// Coordinates are normalized to [0,1] with the origin at the top left.
package face

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// ErrModelUnavailable is returned when no landmark model can be loaded.
// The extractor then reports Unknown for the rest of the session.
var ErrModelUnavailable = errors.New("face: landmark model unavailable")

// EyeContact is the eye-contact label.
type EyeContact int

const (
	EyeContactUnknown EyeContact = iota
	EyeContactGood
	EyeContactLow
)

func (e EyeContact) String() string {
	switch e {
	case EyeContactGood:
		return "Good"
	case EyeContactLow:
		return "Low"
	default:
		return "Unknown"
	}
}

// MarshalJSON encodes the label as its name.
func (e EyeContact) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

// UnmarshalJSON decodes a label name. Unrecognized names decode to Unknown.
func (e *EyeContact) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "Good":
		*e = EyeContactGood
	case "Low":
		*e = EyeContactLow
	default:
		*e = EyeContactUnknown
	}
	return nil
}

// Expressiveness is the mouth-movement label.
type Expressiveness int

const (
	ExpressivenessUnknown Expressiveness = iota
	ExpressivenessExpressive
	ExpressivenessFlat
)

func (x Expressiveness) String() string {
	switch x {
	case ExpressivenessExpressive:
		return "Expressive"
	case ExpressivenessFlat:
		return "Flat"
	default:
		return "Unknown"
	}
}

// MarshalJSON encodes the label as its name.
func (x Expressiveness) MarshalJSON() ([]byte, error) {
	return json.Marshal(x.String())
}

// UnmarshalJSON decodes a label name. Unrecognized names decode to Unknown.
func (x *Expressiveness) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "Expressive":
		*x = ExpressivenessExpressive
	case "Flat":
		*x = ExpressivenessFlat
	default:
		*x = ExpressivenessUnknown
	}
	return nil
}

// Metrics is the observable extractor output.
type Metrics struct {
	EyeContact     EyeContact     `json:"eye_contact"`
	Expressiveness Expressiveness `json:"expressiveness"`
}

// Unknown is the output while disabled or before the first face.
var Unknown = Metrics{}

// Config holds classification thresholds.
type Config struct {
	// CenterMin and CenterMax bound the nose x coordinate (exclusive)
	// for Good eye contact.
	CenterMin float64 `yaml:"center_min" json:"center_min"`
	CenterMax float64 `yaml:"center_max" json:"center_max"`

	// MouthOpenThreshold is the vertical mouth gap above which the face
	// is Expressive.
	MouthOpenThreshold float64 `yaml:"mouth_open_threshold" json:"mouth_open_threshold"`
}

// DefaultConfig returns the reference thresholds.
func DefaultConfig() Config {
	return Config{
		CenterMin:          0.45,
		CenterMax:          0.55,
		MouthOpenThreshold: 0.02,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.CenterMin >= c.CenterMax {
		return fmt.Errorf("center_min (%v) must be below center_max (%v)", c.CenterMin, c.CenterMax)
	}
	if c.MouthOpenThreshold < 0 {
		return fmt.Errorf("mouth_open_threshold must not be negative")
	}
	return nil
}

// Classify labels a single set of landmarks.
func Classify(cfg Config, lm Landmarks) Metrics {
	m := Metrics{
		EyeContact:     EyeContactLow,
		Expressiveness: ExpressivenessFlat,
	}
	if lm.Nose.X > cfg.CenterMin && lm.Nose.X < cfg.CenterMax {
		m.EyeContact = EyeContactGood
	}
	if math.Abs(lm.Mouth[0].Y-lm.Mouth[1].Y) > cfg.MouthOpenThreshold {
		m.Expressiveness = ExpressivenessExpressive
	}
	return m
}

// Stats counts analyzed frames while enabled.
type Stats struct {
	Frames           int64 `json:"frames"`
	FaceFrames       int64 `json:"face_frames"`
	EyeContactFrames int64 `json:"eye_contact_frames"`
	OffCenterFrames  int64 `json:"off_center_frames"`
}

// EyeContactRatio is the share of analyzed frames with Good eye contact.
func (s Stats) EyeContactRatio() float64 {
	if s.Frames == 0 {
		return 0
	}
	return float64(s.EyeContactFrames) / float64(s.Frames)
}

// HeadMovementRatio is the share of analyzed frames with the nose outside
// the center band.
func (s Stats) HeadMovementRatio() float64 {
	if s.Frames == 0 {
		return 0
	}
	return float64(s.OffCenterFrames) / float64(s.Frames)
}

// Extractor turns a stream of per-frame detections into held labels.
// It is safe for concurrent use.
type Extractor struct {
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	enabled     bool
	unavailable bool
	metrics     Metrics
	stats       Stats
}

// NewExtractor creates an enabled extractor reporting Unknown until the
// first face.
func NewExtractor(cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		logger.Warn("invalid face config, using defaults", "error", err)
		cfg = DefaultConfig()
	}
	return &Extractor{
		cfg:     cfg,
		logger:  logger.With("component", "face"),
		enabled: true,
	}
}

// Observe processes one detection cycle. A nil face means no face was
// found; the previous labels are held. Returns the current output and
// whether it changed.
func (e *Extractor) Observe(lm *Landmarks) (Metrics, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.enabled || e.unavailable {
		return Unknown, false
	}

	e.stats.Frames++
	if lm == nil {
		return e.metrics, false
	}

	next := Classify(e.cfg, *lm)
	e.stats.FaceFrames++
	if next.EyeContact == EyeContactGood {
		e.stats.EyeContactFrames++
	} else {
		e.stats.OffCenterFrames++
	}

	changed := next != e.metrics
	e.metrics = next
	return next, changed
}

// SetEnabled toggles analysis. Disabling resets the output to Unknown;
// re-enabling starts from Unknown until the next face. Returns the output
// after the toggle.
func (e *Extractor) SetEnabled(enabled bool) Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.enabled != enabled {
		e.logger.Debug("face analysis toggled", "enabled", enabled)
	}
	e.enabled = enabled
	e.metrics = Unknown
	return e.metrics
}

// Enabled reports whether the camera toggle is on.
func (e *Extractor) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// MarkUnavailable permanently disables analysis after a model failure.
func (e *Extractor) MarkUnavailable(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.unavailable {
		e.logger.Warn("face analysis unavailable", "error", err)
	}
	e.unavailable = true
	e.metrics = Unknown
}

// Available reports whether a landmark model is usable.
func (e *Extractor) Available() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.unavailable
}

// Metrics returns the current output.
func (e *Extractor) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.enabled || e.unavailable {
		return Unknown
	}
	return e.metrics
}

// Stats returns frame counters.
func (e *Extractor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}
