package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartramana/ragmesh/pkg/config"
	ragerrors "github.com/smartramana/ragmesh/pkg/errors"
	"github.com/smartramana/ragmesh/pkg/observability"
	"github.com/smartramana/ragmesh/pkg/tokenizer"
)

func newTestManager(cfg config.BudgetConfig) *Manager {
	return NewManager(tokenizer.NewSimpleTokenizer(0), cfg, observability.NewNoopLogger())
}

func TestNewManagerDefaults(t *testing.T) {
	m := NewManager(nil, config.BudgetConfig{}, nil)

	b, err := m.Calculate("hi", "")
	require.NoError(t, err)

	assert.Equal(t, DefaultModelMaxTokens, b.Total)
	assert.Equal(t, DefaultMaxOutputTokens, b.OutputTokens)
	assert.Equal(t, DefaultSafetyMargin, b.SafetyMargin)
	assert.Equal(t, DefaultMaxOutputTokens, m.MaxOutputTokens())
}

func TestCalculate(t *testing.T) {
	m := newTestManager(config.BudgetConfig{
		ModelMaxTokens:  1000,
		MaxOutputTokens: 100,
		SafetyMargin:    10,
	})

	query := "what is the maximum coolant pressure?"
	system := "Answer using only the provided sources."

	b, err := m.Calculate(query, system)
	require.NoError(t, err)

	assert.Equal(t, 1000, b.Total)
	assert.Equal(t, 100, b.OutputTokens)
	assert.Equal(t, 10, b.SafetyMargin)
	assert.Equal(t, m.CountTokens(query), b.QueryTokens)
	assert.Equal(t, m.CountTokens(system), b.SystemTokens)

	want := 1000 - 100 - 10 - b.QueryTokens - b.SystemTokens
	assert.Equal(t, want, b.ContextBudget)
	assert.Greater(t, b.ContextBudget, 0)
}

func TestCalculateBudgetExceeded(t *testing.T) {
	// Output and safety margin reserve 110 of 120 tokens, so any real query
	// pushes the fixed parts past the window.
	m := newTestManager(config.BudgetConfig{
		ModelMaxTokens:  120,
		MaxOutputTokens: 100,
		SafetyMargin:    10,
	})

	query := "q1 q2 q3 q4 q5 q6 q7 q8 q9 q10 q11"

	b, err := m.Calculate(query, "system prompt here")
	require.Error(t, err)
	assert.True(t, ragerrors.IsValidation(err))
	assert.Equal(t, 0, b.ContextBudget)
	assert.Equal(t, 120, b.Total)
	assert.Greater(t, b.QueryTokens, 0)
}

func TestTruncateToBudgetKeepsHighestScores(t *testing.T) {
	m := newTestManager(config.BudgetConfig{})

	// Token counts: 3, 1, 2, 2.
	texts := []string{"aa bb cc", "dd", "ee ff", "gg hh"}
	scores := []float64{0.9, 0.5, 0.8, 0.7}

	// Greedy by score: index 0 (3 tokens), index 2 (2 tokens,总 5), then
	// indexes 3 and 1 no longer fit.
	selected := m.TruncateToBudget(texts, scores, 5)
	assert.Equal(t, []int{0, 2}, selected)
}

func TestTruncateToBudgetSkipsOversizedAndContinues(t *testing.T) {
	m := newTestManager(config.BudgetConfig{})

	// Token counts: 3, 3, 1. The middle text overflows the budget but the
	// cheaper one after it still fits.
	texts := []string{"w1 w2 w3", "v1 v2 v3", "u1"}
	scores := []float64{0.9, 0.8, 0.7}

	selected := m.TruncateToBudget(texts, scores, 4)
	assert.Equal(t, []int{0, 2}, selected)
}

func TestTruncateToBudgetStableOnTies(t *testing.T) {
	m := newTestManager(config.BudgetConfig{})

	texts := []string{"x1", "x2", "x3"}
	scores := []float64{0.5, 0.5, 0.5}

	// Equal scores keep original order, so the first two take the budget.
	selected := m.TruncateToBudget(texts, scores, 2)
	assert.Equal(t, []int{0, 1}, selected)
}

func TestTruncateToBudgetRestoresOriginalOrder(t *testing.T) {
	m := newTestManager(config.BudgetConfig{})

	texts := []string{"low score", "high score", "mid score"}
	scores := []float64{0.1, 0.9, 0.5}

	// All fit; indices must come back ascending regardless of score order.
	selected := m.TruncateToBudget(texts, scores, 100)
	assert.Equal(t, []int{0, 1, 2}, selected)
}

func TestTruncateToBudgetEdgeCases(t *testing.T) {
	m := newTestManager(config.BudgetConfig{})

	assert.Nil(t, m.TruncateToBudget(nil, nil, 100))
	assert.Nil(t, m.TruncateToBudget([]string{"text"}, []float64{1.0}, 0))

	// Nothing fits.
	selected := m.TruncateToBudget([]string{"a1 a2 a3"}, []float64{1.0}, 2)
	assert.Empty(t, selected)
}
