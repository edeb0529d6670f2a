// Package scoring normalizes and combines the score families produced by the
// dense and lexical retrieval arms.
package scoring

import (
	"fmt"
	"math"
	"time"
)

// decayDays is the recency half-life: a year-old chunk scores ~0.37.
const decayDays = 365.0

// epsilon guards the degenerate all-equal case in both normalizers.
const epsilon = 1e-8

// Weights blends the three score families into one combined score.
type Weights struct {
	Dense   float64
	Lexical float64
	Recency float64
}

// DefaultWeights returns the factual-query blend.
func DefaultWeights() Weights {
	return Weights{
		Dense:   0.7,
		Lexical: 0.2,
		Recency: 0.1,
	}
}

// NormalizeMinMax rescales scores to [0,1]. A single score or an all-equal
// list maps to 1.0 so a lone hit is never discounted.
func NormalizeMinMax(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	if len(scores) == 1 {
		return []float64{1.0}
	}

	minScore, maxScore := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < minScore {
			minScore = s
		}
		if s > maxScore {
			maxScore = s
		}
	}

	normalized := make([]float64, len(scores))
	if maxScore-minScore < epsilon {
		for i := range normalized {
			normalized[i] = 1.0
		}
		return normalized
	}

	for i, s := range scores {
		normalized[i] = (s - minScore) / (maxScore - minScore)
	}
	return normalized
}

// NormalizeZScore standardizes scores and squashes them through a sigmoid.
// Zero variance maps everything to the neutral 0.5.
func NormalizeZScore(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	if len(scores) == 1 {
		return []float64{1.0}
	}

	var sum float64
	for _, s := range scores {
		sum += s
	}
	mean := sum / float64(len(scores))

	var variance float64
	for _, s := range scores {
		variance += (s - mean) * (s - mean)
	}
	std := math.Sqrt(variance / float64(len(scores)))

	normalized := make([]float64, len(scores))
	if std < epsilon {
		for i := range normalized {
			normalized[i] = 0.5
		}
		return normalized
	}

	for i, s := range scores {
		z := (s - mean) / std
		normalized[i] = 1.0 / (1.0 + math.Exp(-z))
	}
	return normalized
}

// Combine blends three already-normalized score lists. Weights that do not
// sum to 1 are renormalized before use.
func Combine(dense, lexical, recency []float64, weights Weights) ([]float64, error) {
	n := len(dense)
	if len(lexical) != n || len(recency) != n {
		return nil, fmt.Errorf("score lists must have the same length: %d/%d/%d",
			len(dense), len(lexical), len(recency))
	}
	if n == 0 {
		return nil, nil
	}

	wd, wl, wr := weights.Dense, weights.Lexical, weights.Recency
	total := wd + wl + wr
	if math.Abs(total-1.0) > 1e-6 {
		wd /= total
		wl /= total
		wr /= total
	}

	combined := make([]float64, n)
	for i := 0; i < n; i++ {
		combined[i] = wd*dense[i] + wl*lexical[i] + wr*recency[i]
	}
	return combined, nil
}

// Recency scores a timestamp with exponential decay, exp(-age_days/365).
func Recency(createdAt time.Time, now time.Time) float64 {
	ageDays := now.Sub(createdAt).Hours() / 24
	return math.Exp(-ageDays / decayDays)
}

// RecencyOrNeutral scores a possibly missing timestamp; chunks without one
// get the neutral 0.5 instead of ranking as infinitely old.
func RecencyOrNeutral(createdAt *time.Time, now time.Time) float64 {
	if createdAt == nil || createdAt.IsZero() {
		return 0.5
	}
	return Recency(*createdAt, now)
}
