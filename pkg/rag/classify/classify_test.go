package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		expected Class
	}{
		{
			name:     "Factual lookup",
			query:    "What is the maintenance interval?",
			expected: Factual,
		},
		{
			name:     "Comparative query",
			query:    "Is the new reactor better than the old one? compare pros and cons",
			expected: Comparative,
		},
		{
			name:     "Temporal query",
			query:    "What changed since the latest release last month?",
			expected: Temporal,
		},
		{
			name:     "Conversational follow-up",
			query:    "Can you tell me more about that?",
			expected: Conversational,
		},
		{
			name:     "Multi-hop chain",
			query:    "Why does the pump fail and overheat, and therefore trip both breakers?",
			expected: MultiHop,
		},
		{
			name:     "No pattern hits defaults to factual",
			query:    "reactor coolant specs",
			expected: Factual,
		},
		{
			name:     "Tie defaults to factual",
			query:    "similar issues before",
			expected: Factual,
		},
		{
			name:     "Empty query defaults to factual",
			query:    "",
			expected: Factual,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Classify(tt.query)
			assert.Equal(t, tt.expected, result.Class)
			assert.Len(t, result.Scores, len(Classes))
		})
	}
}

func TestClassifyMultiHopPriority(t *testing.T) {
	// Factual also scores high here, but multi-hop at >= 2 wins outright.
	result := Classify("what is A and what is B and how many C? thus explain all")

	assert.Equal(t, MultiHop, result.Class)
	assert.GreaterOrEqual(t, result.Scores[MultiHop], 2)
	assert.GreaterOrEqual(t, result.Scores[Factual], 2)
}

func TestClassifyScoresAreCounted(t *testing.T) {
	result := Classify("What changed since the latest release last month?")

	assert.Equal(t, 3, result.Scores[Temporal])
	assert.Equal(t, 1, result.Scores[Factual])
}

func TestParamsFor(t *testing.T) {
	tests := []struct {
		class   Class
		topK    int
		dense   float64
		lexical float64
		recency float64
		mmr     float64
	}{
		{Factual, 5, 0.7, 0.2, 0.1, 0.5},
		{Comparative, 8, 0.6, 0.3, 0.1, 0.7},
		{Temporal, 5, 0.5, 0.2, 0.3, 0.6},
		{Conversational, 5, 0.8, 0.1, 0.1, 0.5},
		{MultiHop, 10, 0.6, 0.3, 0.1, 0.8},
	}

	for _, tt := range tests {
		t.Run(string(tt.class), func(t *testing.T) {
			params := ParamsFor(tt.class)
			assert.Equal(t, tt.topK, params.TopK)
			assert.Equal(t, tt.dense, params.DenseWeight)
			assert.Equal(t, tt.lexical, params.LexicalWeight)
			assert.Equal(t, tt.recency, params.RecencyWeight)
			assert.Equal(t, tt.mmr, params.MMRLambda)
		})
	}
}

func TestParamsForUnknownClass(t *testing.T) {
	params := ParamsFor(Class("nonsense"))
	assert.Equal(t, ParamsFor(Factual), params)
}

func TestParamsWeightsSumToOne(t *testing.T) {
	for _, class := range Classes {
		params := ParamsFor(class)
		sum := params.DenseWeight + params.LexicalWeight + params.RecencyWeight
		assert.InDelta(t, 1.0, sum, 1e-9, "weights for %s", class)
	}
}
