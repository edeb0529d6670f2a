// Package monitoring tracks what answering costs and how the pipeline
// behaves: per-model price math, interaction metrics emission, and the
// feedback loop on answer quality.
package monitoring

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/smartramana/ragmesh/pkg/observability"
)

// Model prices in USD. Input and output rates differ per model; embeddings
// only consume input tokens.
var (
	geminiProInput  = decimal.RequireFromString("0.000125")
	geminiProOutput = decimal.RequireFromString("0.000375")

	geminiFlashInput  = decimal.RequireFromString("0.000075")
	geminiFlashOutput = decimal.RequireFromString("0.00030")

	embeddingInput = decimal.RequireFromString("0.00001")

	tokensPerMillion = decimal.NewFromInt(1_000_000)
)

// CostTracker estimates the spend of generation and embedding calls. All
// arithmetic stays in decimal so daily quota sums do not drift.
type CostTracker struct {
	logger observability.Logger
}

// NewCostTracker creates a cost tracker
func NewCostTracker(logger observability.Logger) *CostTracker {
	if logger == nil {
		logger = observability.NewLogger("cost")
	}
	return &CostTracker{logger: logger}
}

// Cost estimates one generation call from its token usage
func (t *CostTracker) Cost(modelName string, promptTokens, completionTokens int) decimal.Decimal {
	inputPrice, outputPrice := t.pricing(modelName)

	inputCost := decimal.NewFromInt(int64(promptTokens)).Div(tokensPerMillion).Mul(inputPrice)
	outputCost := decimal.NewFromInt(int64(completionTokens)).Div(tokensPerMillion).Mul(outputPrice)
	total := inputCost.Add(outputCost)

	t.logger.Debug("Cost calculated", map[string]interface{}{
		"model":             modelName,
		"prompt_tokens":     promptTokens,
		"completion_tokens": completionTokens,
		"total_cost":        total.String(),
	})
	return total
}

// EmbeddingCost estimates one embedding call
func (t *CostTracker) EmbeddingCost(modelName string, tokens int) decimal.Decimal {
	inputPrice, _ := t.pricing(modelName)
	return decimal.NewFromInt(int64(tokens)).Div(tokensPerMillion).Mul(inputPrice)
}

// MonthlyEstimate projects spend from an average usage pattern
type MonthlyEstimate struct {
	CostPerRequest decimal.Decimal `json:"cost_per_request"`
	DailyCost      decimal.Decimal `json:"daily_cost"`
	MonthlyCost    decimal.Decimal `json:"monthly_cost"`
	AnnualCost     decimal.Decimal `json:"annual_cost"`
}

// EstimateMonthly projects daily, monthly and annual cost for a usage level
func (t *CostTracker) EstimateMonthly(modelName string, dailyRequests, avgPromptTokens, avgCompletionTokens int) MonthlyEstimate {
	perRequest := t.Cost(modelName, avgPromptTokens, avgCompletionTokens)
	daily := perRequest.Mul(decimal.NewFromInt(int64(dailyRequests)))
	return MonthlyEstimate{
		CostPerRequest: perRequest,
		DailyCost:      daily,
		MonthlyCost:    daily.Mul(decimal.NewFromInt(30)),
		AnnualCost:     daily.Mul(decimal.NewFromInt(365)),
	}
}

// pricing resolves a model name to its input and output rates. Unknown
// models charge at the most expensive tier rather than under-counting.
func (t *CostTracker) pricing(modelName string) (decimal.Decimal, decimal.Decimal) {
	model := strings.ToLower(modelName)
	switch {
	case strings.Contains(model, "gemini-1.5-pro") || strings.Contains(model, "gemini-pro"):
		return geminiProInput, geminiProOutput
	case strings.Contains(model, "gemini-1.5-flash") || strings.Contains(model, "gemini-flash"):
		return geminiFlashInput, geminiFlashOutput
	case strings.Contains(model, "embedding"):
		return embeddingInput, decimal.Zero
	default:
		t.logger.Warn("Unknown model, charging default pricing", map[string]interface{}{
			"model": modelName,
		})
		return geminiProInput, geminiProOutput
	}
}

// FormatCost renders a cost with precision matched to its size
func FormatCost(cost decimal.Decimal) string {
	switch {
	case cost.LessThan(decimal.RequireFromString("0.01")):
		return "$" + cost.StringFixed(6)
	case cost.LessThan(decimal.NewFromInt(1)):
		return "$" + cost.StringFixed(4)
	default:
		return "$" + cost.StringFixed(2)
	}
}
