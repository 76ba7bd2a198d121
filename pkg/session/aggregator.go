package session

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-rehearse/pkg/activity"
	"github.com/teslashibe/go-rehearse/pkg/confidence"
	"github.com/teslashibe/go-rehearse/pkg/face"
)

// BaselineSource averages stored scores for a category.
type BaselineSource interface {
	// BaselineAverage returns the mean AvgConfidence of the user's
	// records in category, and false when there are none.
	BaselineAverage(ctx context.Context, userID, category string) (float64, bool, error)
}

// Final is everything the aggregator reads once the session loops stop.
type Final struct {
	UserID        string
	Scenario      Scenario
	Engine        confidence.State
	Audio         activity.Metrics
	AudioStats    activity.Stats
	FaceStats     face.Stats
	CameraEnabled bool
	EndedAt       time.Time
}

// Aggregator turns final session state into a Record.
type Aggregator struct {
	// BaselineCategory is compared against; default "casual".
	BaselineCategory string
	// Baseline is optional; without it the delta is always nil.
	Baseline BaselineSource

	logger *slog.Logger
}

// NewAggregator creates an aggregator.
func NewAggregator(baseline BaselineSource, category string, logger *slog.Logger) *Aggregator {
	if category == "" {
		category = CategoryCasual
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		BaselineCategory: category,
		Baseline:         baseline,
		logger:           logger.With("component", "aggregator"),
	}
}

// Finalize builds the sanitized record. A failing baseline lookup is
// logged and treated as no baseline.
func (a *Aggregator) Finalize(ctx context.Context, f Final) Record {
	st := f.Engine

	avg := math.Round(st.Current)
	minScore := avg
	if len(st.Samples) > 0 {
		minScore = st.MinSeen
	}

	var silenceRatio float64
	if st.Ticks > 0 {
		silenceRatio = float64(st.SilentTicks) / float64(st.Ticks)
	}

	ended := f.EndedAt
	if ended.IsZero() {
		ended = time.Now()
	}

	r := Record{
		ID:                 uuid.NewString(),
		UserID:             f.UserID,
		QuestionID:         f.Scenario.ID,
		ScenarioTitle:      f.Scenario.Title,
		Category:           f.Scenario.Category,
		Difficulty:         f.Scenario.Difficulty,
		Stakes:             f.Scenario.Stakes,
		AvgConfidence:      avg,
		MinConfidence:      minScore,
		ConfidenceVariance: confidence.Variance(st.Samples),
		SilenceCount:       int(f.Audio.SilenceCount),
		SilenceRatio:       silenceRatio,
		LongPauseCount:     int(f.Audio.LongPauseCount),
		SpeechBursts:       int(f.Audio.SpeechBursts),
		VolumeVariance:     f.AudioStats.VolumeVariance,
		CameraEnabled:      f.CameraEnabled,
		EyeContactRatio:    f.FaceStats.EyeContactRatio(),
		HeadMovementRatio:  f.FaceStats.HeadMovementRatio(),
		Duration:           f.Scenario.Duration().Seconds(),
		NeverSpoke:         !f.Audio.EverSpoke,
		Timestamp:          ended.UTC(),
	}

	if a.Baseline != nil {
		base, ok, err := a.Baseline.BaselineAverage(ctx, f.UserID, a.BaselineCategory)
		switch {
		case err != nil:
			a.logger.Warn("baseline lookup failed", "user", f.UserID, "error", err)
		case ok:
			delta := avg - base
			r.DeltaConfidenceVsBaseline = &delta
		}
	}

	return Sanitize(r)
}
