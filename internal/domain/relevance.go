package domain

import "math"

// Metric names the distance reported by a vector index.
type Metric string

const (
	// MetricNone means the backend reported no distance.
	MetricNone      Metric = ""
	MetricCosine    Metric = "cosine"
	MetricL2        Metric = "l2"
	MetricL2Squared Metric = "l2_squared"
)

// RelevanceScore maps a raw distance to [0,1] using a transform that matches
// the metric: cosine distance lives in [0,2], euclidean distances are
// unbounded and are squashed with 1/(1+d). Without a distance the score is 1.
func RelevanceScore(metric Metric, distance float64) float64 {
	if math.IsNaN(distance) {
		return 0
	}
	var score float64
	switch metric {
	case MetricNone:
		return 1
	case MetricCosine:
		score = 1 - distance/2
	case MetricL2Squared:
		score = 1 / (1 + math.Sqrt(math.Max(distance, 0)))
	default:
		score = 1 / (1 + math.Max(distance, 0))
	}
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
