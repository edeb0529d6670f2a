// Package budget manages the model context window. It reserves room for the
// fixed prompt parts (system instructions, query, answer, safety margin) and
// hands the remainder to the context optimizer as the retrieval budget.
package budget

import (
	"sort"

	"github.com/smartramana/ragmesh/pkg/config"
	ragerrors "github.com/smartramana/ragmesh/pkg/errors"
	"github.com/smartramana/ragmesh/pkg/observability"
	"github.com/smartramana/ragmesh/pkg/tokenizer"
)

// Defaults match Gemini 2.5 Flash limits.
const (
	DefaultModelMaxTokens  = 1_048_576
	DefaultMaxOutputTokens = 8192
	DefaultSafetyMargin    = 100
)

// Budget is the token breakdown for one request.
type Budget struct {
	Total         int `json:"total"`
	SystemTokens  int `json:"system_tokens"`
	QueryTokens   int `json:"query_tokens"`
	OutputTokens  int `json:"output_tokens"`
	SafetyMargin  int `json:"safety_margin"`
	ContextBudget int `json:"context_budget"`
}

// Manager computes per-request context budgets. It counts with the same
// tokenizer the chunker uses, so chunk token counts recorded at ingestion
// time stay comparable with prompt-time budgets.
type Manager struct {
	tok    tokenizer.Tokenizer
	cfg    config.BudgetConfig
	logger observability.Logger
}

// NewManager creates a budget manager. Zero config fields fall back to the
// model defaults.
func NewManager(tok tokenizer.Tokenizer, cfg config.BudgetConfig, logger observability.Logger) *Manager {
	if tok == nil {
		tok = tokenizer.NewSimpleTokenizer(0)
	}
	if cfg.ModelMaxTokens <= 0 {
		cfg.ModelMaxTokens = DefaultModelMaxTokens
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if cfg.SafetyMargin <= 0 {
		cfg.SafetyMargin = DefaultSafetyMargin
	}
	if logger == nil {
		logger = observability.NewLogger("rag.budget")
	}
	return &Manager{tok: tok, cfg: cfg, logger: logger}
}

// CountTokens counts tokens with the shared tokenizer.
func (m *Manager) CountTokens(text string) int {
	return m.tok.CountTokens(text)
}

// MaxOutputTokens returns the configured generation output cap.
func (m *Manager) MaxOutputTokens() int {
	return m.cfg.MaxOutputTokens
}

// Calculate reserves tokens for the system prompt, the query, the answer and
// the safety margin, and returns what is left for retrieved context. When
// the fixed parts alone exceed the model window the context budget is
// clamped to zero and a validation error is returned.
func (m *Manager) Calculate(query, systemPrompt string) (Budget, error) {
	b := Budget{
		Total:        m.cfg.ModelMaxTokens,
		SystemTokens: m.tok.CountTokens(systemPrompt),
		QueryTokens:  m.tok.CountTokens(query),
		OutputTokens: m.cfg.MaxOutputTokens,
		SafetyMargin: m.cfg.SafetyMargin,
	}

	reserved := b.SystemTokens + b.QueryTokens + b.OutputTokens + b.SafetyMargin
	b.ContextBudget = b.Total - reserved
	if b.ContextBudget <= 0 {
		b.ContextBudget = 0
		return b, ragerrors.Newf("BUDGET_EXCEEDED", ragerrors.ClassValidation,
			"fixed prompt parts reserve %d of %d tokens, leaving no room for context", reserved, b.Total)
	}

	m.logger.Debug("Token budget calculated", map[string]interface{}{
		"context_budget": b.ContextBudget,
		"query_tokens":   b.QueryTokens,
		"system_tokens":  b.SystemTokens,
	})

	return b, nil
}

// TruncateToBudget greedily keeps the highest scoring texts that fit within
// budgetTokens and returns their indices in original order. A text that does
// not fit is skipped rather than ending the scan, so a shorter lower-scoring
// text can still use the remaining budget. texts and scores are parallel
// slices.
func (m *Manager) TruncateToBudget(texts []string, scores []float64, budgetTokens int) []int {
	if len(texts) == 0 || budgetTokens <= 0 {
		return nil
	}

	order := make([]int, len(texts))
	for i := range order {
		order[i] = i
	}
	// Stable sort keeps original order among equal scores.
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	selected := make([]int, 0, len(texts))
	used := 0
	for _, idx := range order {
		tokens := m.tok.CountTokens(texts[idx])
		if used+tokens > budgetTokens {
			continue
		}
		selected = append(selected, idx)
		used += tokens
	}

	if len(selected) < len(texts) {
		m.logger.Debug("Context truncated to budget", map[string]interface{}{
			"kept":          len(selected),
			"dropped":       len(texts) - len(selected),
			"tokens_used":   used,
			"budget_tokens": budgetTokens,
		})
	}

	sort.Ints(selected)
	return selected
}
