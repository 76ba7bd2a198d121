package session

import (
	"math"
	"time"

	"github.com/spf13/cast"
)

// Record is the finalized, sanitized result of one session. JSON field
// names are stable; stored history depends on them.
type Record struct {
	ID     string `json:"id"`
	UserID string `json:"userId,omitempty"`

	QuestionID    string `json:"questionId"`
	ScenarioTitle string `json:"scenarioTitle"`
	Category      string `json:"category"`
	Difficulty    string `json:"difficulty,omitempty"`
	Stakes        string `json:"stakes,omitempty"`

	AvgConfidence      float64 `json:"avgConfidence"`
	MinConfidence      float64 `json:"minConfidence"`
	ConfidenceVariance float64 `json:"confidenceVariance"`

	SilenceCount   int     `json:"silenceCount"`
	SilenceRatio   float64 `json:"silenceRatio"`
	LongPauseCount int     `json:"longPauseCount"`
	SpeechBursts   int     `json:"speechBursts"`
	VolumeVariance float64 `json:"volumeVariance"`

	CameraEnabled     bool    `json:"cameraEnabled"`
	EyeContactRatio   float64 `json:"eyeContactRatio"`
	HeadMovementRatio float64 `json:"headMovementRatio"`

	// Duration is the configured speaking time in seconds.
	Duration   float64 `json:"duration"`
	NeverSpoke bool    `json:"neverSpoke"`

	// DeltaConfidenceVsBaseline is nil when no baseline sessions exist.
	DeltaConfidenceVsBaseline *float64 `json:"deltaConfidenceVsBaseline"`

	Timestamp time.Time `json:"time"`
}

// Sanitize replaces non-finite numbers with 0 and clamps every numeric
// field to its valid range.
func Sanitize(r Record) Record {
	r.AvgConfidence = clampRange(r.AvgConfidence, 0, 100)
	r.MinConfidence = clampRange(r.MinConfidence, 0, 100)
	r.ConfidenceVariance = nonNegative(r.ConfidenceVariance)

	r.SilenceCount = max(r.SilenceCount, 0)
	r.LongPauseCount = max(r.LongPauseCount, 0)
	r.SpeechBursts = max(r.SpeechBursts, 0)
	r.SilenceRatio = clampRange(r.SilenceRatio, 0, 1)
	r.VolumeVariance = nonNegative(r.VolumeVariance)

	r.EyeContactRatio = clampRange(r.EyeContactRatio, 0, 1)
	r.HeadMovementRatio = clampRange(r.HeadMovementRatio, 0, 1)

	r.Duration = nonNegative(r.Duration)

	if r.DeltaConfidenceVsBaseline != nil {
		d := finite(*r.DeltaConfidenceVsBaseline)
		r.DeltaConfidenceVsBaseline = &d
	}
	return r
}

// SanitizeRaw coerces a loosely typed stored record (strings for numbers,
// missing fields, legacy keys) into a sanitized Record. Invalid or
// missing numbers become 0.
func SanitizeRaw(raw map[string]any) Record {
	num := func(keys ...string) float64 {
		for _, k := range keys {
			if v, ok := raw[k]; ok && v != nil {
				f, err := cast.ToFloat64E(v)
				if err != nil {
					return 0
				}
				return f
			}
		}
		return 0
	}
	str := func(key string) string {
		return cast.ToString(raw[key])
	}

	r := Record{
		ID:                 str("id"),
		UserID:             str("userId"),
		QuestionID:         str("questionId"),
		ScenarioTitle:      str("scenarioTitle"),
		Category:           str("category"),
		Difficulty:         str("difficulty"),
		Stakes:             str("stakes"),
		AvgConfidence:      num("avgConfidence", "finalConfidence", "confidence"),
		MinConfidence:      num("minConfidence"),
		ConfidenceVariance: num("confidenceVariance"),
		SilenceCount:       int(num("silenceCount")),
		SilenceRatio:       num("silenceRatio"),
		LongPauseCount:     int(num("longPauseCount")),
		SpeechBursts:       int(num("speechBursts")),
		VolumeVariance:     num("volumeVariance"),
		CameraEnabled:      cast.ToBool(raw["cameraEnabled"]),
		EyeContactRatio:    num("eyeContactRatio"),
		HeadMovementRatio:  num("headMovementRatio"),
		Duration:           num("duration"),
		NeverSpoke:         cast.ToBool(raw["neverSpoke"]),
	}

	for _, k := range []string{"deltaConfidenceVsBaseline", "deltaConfidenceVsCasual"} {
		if v, ok := raw[k]; ok && v != nil {
			d := num(k)
			r.DeltaConfidenceVsBaseline = &d
			break
		}
	}

	if ts, err := cast.ToTimeE(raw["time"]); err == nil {
		r.Timestamp = ts.UTC()
	}

	return Sanitize(r)
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func nonNegative(v float64) float64 {
	return math.Max(0, finite(v))
}

func clampRange(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, finite(v)))
}
