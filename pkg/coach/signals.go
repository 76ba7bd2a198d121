// Package coach turns a finished session record into behavioral signals
// and short coaching text. The score itself never depends on anything
// here.
package coach

import (
	"github.com/teslashibe/go-rehearse/pkg/session"
)

// Signal is a named behavioral cue detected in a record.
type Signal string

const (
	SignalFreeze                 Signal = "freeze"
	SignalHighHesitation         Signal = "high_hesitation"
	SignalLowEyeContact          Signal = "low_eye_contact"
	SignalNervousMovement        Signal = "nervous_movement"
	SignalLowVocalExpressiveness Signal = "low_vocal_expressiveness"
	SignalStrongFluency          Signal = "strong_fluency"
	SignalModerateConfidence     Signal = "moderate_confidence"
)

// Thresholds for signal detection.
const (
	HesitationRatio       = 0.45
	LowEyeContactRatio    = 0.4
	NervousMovementRatio  = 0.35
	FlatVolumeVariance    = 0.0004
	FluentSpeechBursts    = 12
	FluentEyeContactRatio = 0.6
	ConfidentSelfRating   = 4
	DefaultSelfRating     = 3
	minSelfRating         = 1
	maxSelfRating         = 5
)

// ClampRating bounds a 1-5 self rating; zero means DefaultSelfRating.
func ClampRating(r int) int {
	if r == 0 {
		return DefaultSelfRating
	}
	return min(max(r, minSelfRating), maxSelfRating)
}

// Analyze lists the signals present in r. A session without speech
// yields only SignalFreeze. Eye-contact cues apply only when the camera
// was on.
func Analyze(r session.Record, selfRating int) []Signal {
	if r.NeverSpoke {
		return []Signal{SignalFreeze}
	}
	selfRating = ClampRating(selfRating)

	var signals []Signal
	if r.SilenceRatio > HesitationRatio {
		signals = append(signals, SignalHighHesitation)
	}
	if r.CameraEnabled && r.EyeContactRatio < LowEyeContactRatio {
		signals = append(signals, SignalLowEyeContact)
	}
	if r.HeadMovementRatio > NervousMovementRatio {
		signals = append(signals, SignalNervousMovement)
	}
	if r.VolumeVariance < FlatVolumeVariance {
		signals = append(signals, SignalLowVocalExpressiveness)
	}
	if r.SpeechBursts >= FluentSpeechBursts &&
		r.EyeContactRatio >= FluentEyeContactRatio &&
		selfRating >= ConfidentSelfRating {
		signals = append(signals, SignalStrongFluency)
	}

	if len(signals) == 0 {
		signals = append(signals, SignalModerateConfidence)
	}
	return signals
}
