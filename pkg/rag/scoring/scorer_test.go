package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMinMax(t *testing.T) {
	tests := []struct {
		name     string
		scores   []float64
		expected []float64
	}{
		{
			name:     "Empty",
			scores:   nil,
			expected: nil,
		},
		{
			name:     "Single score",
			scores:   []float64{0.3},
			expected: []float64{1.0},
		},
		{
			name:     "All equal",
			scores:   []float64{0.4, 0.4, 0.4},
			expected: []float64{1.0, 1.0, 1.0},
		},
		{
			name:     "Spread",
			scores:   []float64{2, 4, 6},
			expected: []float64{0, 0.5, 1},
		},
		{
			name:     "Negative values",
			scores:   []float64{-1, 0, 1},
			expected: []float64{0, 0.5, 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			normalized := NormalizeMinMax(tt.scores)
			require.Len(t, normalized, len(tt.expected))
			for i := range tt.expected {
				assert.InDelta(t, tt.expected[i], normalized[i], 1e-9)
			}
		})
	}
}

func TestNormalizeZScore(t *testing.T) {
	t.Run("Zero variance maps to neutral", func(t *testing.T) {
		normalized := NormalizeZScore([]float64{0.7, 0.7, 0.7})
		for _, s := range normalized {
			assert.InDelta(t, 0.5, s, 1e-9)
		}
	})

	t.Run("Sigmoid keeps ordering and bounds", func(t *testing.T) {
		normalized := NormalizeZScore([]float64{1, 2, 3, 10})
		require.Len(t, normalized, 4)
		for i := 0; i < len(normalized)-1; i++ {
			assert.Less(t, normalized[i], normalized[i+1])
		}
		for _, s := range normalized {
			assert.Greater(t, s, 0.0)
			assert.Less(t, s, 1.0)
		}
	})

	t.Run("Single score", func(t *testing.T) {
		assert.Equal(t, []float64{1.0}, NormalizeZScore([]float64{42}))
	})

	t.Run("Mean sits at 0.5", func(t *testing.T) {
		normalized := NormalizeZScore([]float64{1, 2, 3})
		assert.InDelta(t, 0.5, normalized[1], 1e-9)
	})
}

func TestCombine(t *testing.T) {
	dense := []float64{1.0, 0.0}
	lexical := []float64{0.0, 1.0}
	recency := []float64{0.5, 0.5}

	combined, err := Combine(dense, lexical, recency, Weights{Dense: 0.7, Lexical: 0.2, Recency: 0.1})
	require.NoError(t, err)
	require.Len(t, combined, 2)
	assert.InDelta(t, 0.75, combined[0], 1e-9)
	assert.InDelta(t, 0.25, combined[1], 1e-9)
}

func TestCombineRenormalizesWeights(t *testing.T) {
	// 1.4/0.4/0.2 sums to 2.0; behaves like 0.7/0.2/0.1.
	combined, err := Combine(
		[]float64{1.0}, []float64{1.0}, []float64{1.0},
		Weights{Dense: 1.4, Lexical: 0.4, Recency: 0.2},
	)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, combined[0], 1e-9)
}

func TestCombineLengthMismatch(t *testing.T) {
	_, err := Combine([]float64{1, 2}, []float64{1}, []float64{1, 2}, DefaultWeights())
	assert.Error(t, err)
}

func TestCombineEmpty(t *testing.T) {
	combined, err := Combine(nil, nil, nil, DefaultWeights())
	require.NoError(t, err)
	assert.Empty(t, combined)
}

func TestRecency(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		createdAt time.Time
		expected  float64
		tolerance float64
	}{
		{
			name:      "Brand new",
			createdAt: now,
			expected:  1.0,
			tolerance: 1e-9,
		},
		{
			name:      "One year old",
			createdAt: now.AddDate(-1, 0, 0),
			expected:  0.368,
			tolerance: 0.005,
		},
		{
			name:      "Two years old",
			createdAt: now.AddDate(-2, 0, 0),
			expected:  0.135,
			tolerance: 0.005,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Recency(tt.createdAt, now), tt.tolerance)
		})
	}
}

func TestRecencyOrNeutral(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	assert.InDelta(t, 0.5, RecencyOrNeutral(nil, now), 1e-9)

	zero := time.Time{}
	assert.InDelta(t, 0.5, RecencyOrNeutral(&zero, now), 1e-9)

	fresh := now
	assert.InDelta(t, 1.0, RecencyOrNeutral(&fresh, now), 1e-9)
}
