package session

import (
	"math"
	"sort"
	"time"
)

// BaselineAverage returns the mean AvgConfidence of records in category,
// and false when none match.
func BaselineAverage(records []Record, category string) (float64, bool) {
	var sum float64
	var n int
	for _, r := range records {
		if r.Category != category {
			continue
		}
		sum += r.AvgConfidence
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// TrendPoint is one session on the score timeline.
type TrendPoint struct {
	Time  time.Time `json:"time"`
	Score float64   `json:"score"`
}

// Analytics summarizes a user's history.
type Analytics struct {
	Sessions int `json:"sessions"`

	// ByCategory is the mean score per category. Records without a
	// category are not grouped.
	ByCategory map[string]float64 `json:"by_category"`

	// SelfEvaluationDrop is the casual mean minus the self-evaluation
	// mean, when both exist.
	SelfEvaluationDrop *float64 `json:"self_evaluation_drop"`

	// NeverSpoke counts sessions without any detected speech.
	NeverSpoke int `json:"never_spoke"`

	Trend []TrendPoint `json:"trend"`
}

// Analyze computes history analytics. Records are not modified.
func Analyze(records []Record) Analytics {
	a := Analytics{
		Sessions:   len(records),
		ByCategory: make(map[string]float64),
		Trend:      make([]TrendPoint, 0, len(records)),
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, r := range records {
		if r.NeverSpoke {
			a.NeverSpoke++
		}
		a.Trend = append(a.Trend, TrendPoint{Time: r.Timestamp, Score: r.AvgConfidence})

		if r.Category == "" {
			continue
		}
		sums[r.Category] += r.AvgConfidence
		counts[r.Category]++
	}
	for c, n := range counts {
		a.ByCategory[c] = sums[c] / float64(n)
	}

	casual, okC := a.ByCategory[CategoryCasual]
	eval, okE := a.ByCategory[CategorySelfEvaluation]
	if okC && okE {
		drop := casual - eval
		a.SelfEvaluationDrop = &drop
	}

	sort.SliceStable(a.Trend, func(i, j int) bool {
		return a.Trend[i].Time.Before(a.Trend[j].Time)
	})
	return a
}

// Round returns v rounded to the nearest integer, for display.
func Round(v float64) int {
	return int(math.Round(v))
}
