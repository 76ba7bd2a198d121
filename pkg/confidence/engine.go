// Package confidence fuses audio activity and face signals into a single
// smoothed score in [0,100].
//
// While the speaker talks the score is pulled toward a target built from
// a base value plus bonuses for fluency, eye contact and expressiveness.
// After a grace period of silence the score slowly decays. Every tick
// records the rounded score for end-of-session statistics.
package confidence

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/teslashibe/go-rehearse/pkg/activity"
	"github.com/teslashibe/go-rehearse/pkg/face"
)

// TickMode selects what drives the engine.
type TickMode string

const (
	// TickFixed ticks on a steady timer, independent of video.
	TickFixed TickMode = "fixed"
	// TickVideo ticks once per processed video frame. Without frames the
	// score stalls; kept for parity with frame-driven clients.
	TickVideo TickMode = "video"
)

// Config tunes the fusion engine.
type Config struct {
	Seed            float64       `yaml:"seed" json:"seed"`
	Alpha           float64       `yaml:"alpha" json:"alpha"`
	SpeakingBase    float64       `yaml:"speaking_base" json:"speaking_base"`
	FluencyBonus    float64       `yaml:"fluency_bonus" json:"fluency_bonus"`
	EyeContactBonus float64       `yaml:"eye_contact_bonus" json:"eye_contact_bonus"`
	ExpressiveBonus float64       `yaml:"expressive_bonus" json:"expressive_bonus"`
	SilenceGrace    time.Duration `yaml:"silence_grace" json:"silence_grace"`
	DecayStep       float64       `yaml:"decay_step" json:"decay_step"`
	TickMode        TickMode      `yaml:"tick_mode" json:"tick_mode"`
	TickInterval    time.Duration `yaml:"tick_interval" json:"tick_interval"`
}

// Score bounds.
const (
	MinScore = 0
	MaxScore = 100
)

// DefaultConfig returns the reference tuning ticking at 60Hz.
func DefaultConfig() Config {
	return Config{
		Seed:            35,
		Alpha:           0.08,
		SpeakingBase:    30,
		FluencyBonus:    15,
		EyeContactBonus: 15,
		ExpressiveBonus: 15,
		SilenceGrace:    1500 * time.Millisecond,
		DecayStep:       0.4,
		TickMode:        TickFixed,
		TickInterval:    time.Second / 60,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Alpha <= 0 || c.Alpha > 1 {
		return fmt.Errorf("alpha must be in (0,1], got %v", c.Alpha)
	}
	if c.Seed < MinScore || c.Seed > MaxScore {
		return fmt.Errorf("seed must be in [0,100], got %v", c.Seed)
	}
	if c.DecayStep < 0 {
		return fmt.Errorf("decay_step must not be negative")
	}
	switch c.TickMode {
	case TickFixed, TickVideo:
	default:
		return fmt.Errorf("unknown tick_mode %q", c.TickMode)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive")
	}
	return nil
}

// Inputs are the detector outputs read at one tick.
type Inputs struct {
	Audio       activity.Metrics `json:"audio"`
	Face        face.Metrics     `json:"face"`
	FaceEnabled bool             `json:"camera_enabled"`
}

// Snapshot is the engine output after one tick.
type Snapshot struct {
	Score   int     `json:"score"`
	Current float64 `json:"current"`
	Target  float64 `json:"target"`
	Min     int     `json:"min"`
	Ticks   int64   `json:"ticks"`
	Inputs  Inputs  `json:"inputs"`
}

// State is a copy of the full engine state.
type State struct {
	Current     float64
	Target      float64
	Samples     []int
	MinSeen     float64
	LastSpeech  time.Time
	Ticks       int64
	SilentTicks int64
}

// Engine is the fusion state machine. It is safe for concurrent use.
type Engine struct {
	cfg Config

	mu          sync.Mutex
	current     float64
	target      float64
	samples     []int
	minSeen     float64
	lastSpeech  time.Time
	ticks       int64
	silentTicks int64
}

// NewEngine creates an engine seeded at cfg.Seed. start is the session
// start time and counts as the last speech for the silence grace period.
func NewEngine(cfg Config, start time.Time) *Engine {
	return &Engine{
		cfg:        cfg,
		current:    cfg.Seed,
		target:     cfg.Seed,
		minSeen:    MaxScore,
		lastSpeech: start,
	}
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Tick advances the engine one step.
func (e *Engine) Tick(in Inputs, now time.Time) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	if in.Audio.Speaking {
		e.lastSpeech = now
		e.target = math.Min(MaxScore, e.speakingTarget(in))
	} else {
		e.silentTicks++
		if now.Sub(e.lastSpeech) > e.cfg.SilenceGrace {
			e.target = math.Max(MinScore, e.current-e.cfg.DecayStep)
		}
	}

	e.current += (e.target - e.current) * e.cfg.Alpha
	e.current = clamp(e.current)

	rounded := int(math.Round(e.current))
	e.samples = append(e.samples, rounded)
	if float64(rounded) < e.minSeen {
		e.minSeen = float64(rounded)
	}
	e.ticks++

	return Snapshot{
		Score:   rounded,
		Current: e.current,
		Target:  e.target,
		Min:     int(e.minSeen),
		Ticks:   e.ticks,
		Inputs:  in,
	}
}

func (e *Engine) speakingTarget(in Inputs) float64 {
	score := e.cfg.SpeakingBase
	if in.Audio.LongPauseCount == 0 {
		score += e.cfg.FluencyBonus
	}
	if in.FaceEnabled {
		if in.Face.EyeContact == face.EyeContactGood {
			score += e.cfg.EyeContactBonus
		}
		if in.Face.Expressiveness == face.ExpressivenessExpressive {
			score += e.cfg.ExpressiveBonus
		}
	}
	return score
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return MinScore
	}
	return math.Max(MinScore, math.Min(MaxScore, v))
}

// Score returns the rounded current score.
func (e *Engine) Score() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return int(math.Round(e.current))
}

// Variance returns the population variance of recorded samples.
func (e *Engine) Variance() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Variance(e.samples)
}

// SilenceRatio returns the share of ticks where the speaker was silent.
func (e *Engine) SilenceRatio() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ticks == 0 {
		return 0
	}
	return float64(e.silentTicks) / float64(e.ticks)
}

// State returns a copy of the engine state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return State{
		Current:     e.current,
		Target:      e.target,
		Samples:     append([]int(nil), e.samples...),
		MinSeen:     e.minSeen,
		LastSpeech:  e.lastSpeech,
		Ticks:       e.ticks,
		SilentTicks: e.silentTicks,
	}
}

// Variance returns the population variance (divisor N) of samples, or 0
// for none.
func Variance(samples []int) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s)
	}
	mean := sum / float64(len(samples))

	var sq float64
	for _, s := range samples {
		d := float64(s) - mean
		sq += d * d
	}
	return sq / float64(len(samples))
}

// Converge returns the value after k smoothing steps from seed toward a
// fixed target: target + (seed-target)(1-alpha)^k.
func Converge(target, seed, alpha float64, k int) float64 {
	return target + (seed-target)*math.Pow(1-alpha, float64(k))
}
