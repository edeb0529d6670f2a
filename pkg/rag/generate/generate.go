// Package generate produces answers from assembled prompts through the
// Gemini generateContent endpoint and audits the citations they carry.
package generate

import (
	"context"

	"github.com/smartramana/ragmesh/pkg/models"
)

// Generation defaults. The load shedder lowers max tokens and timeouts and
// may raise temperature under pressure.
const (
	DefaultTemperature     = 0.1
	DefaultMaxOutputTokens = 8192
	DefaultTimeoutSeconds  = 60
)

// Generator produces an answer for an assembled prompt.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
}

// GenerationRequest carries the prompt pair and per-request tuning.
type GenerationRequest struct {
	System          string
	User            string
	Temperature     float64
	MaxOutputTokens int
	TimeoutSeconds  int
}

// ApplyDefaults fills unset tuning fields.
func (r *GenerationRequest) ApplyDefaults() {
	if r.Temperature <= 0 {
		r.Temperature = DefaultTemperature
	}
	if r.MaxOutputTokens <= 0 {
		r.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if r.TimeoutSeconds <= 0 {
		r.TimeoutSeconds = DefaultTimeoutSeconds
	}
}

// GenerationResult is the model output with usage accounting.
type GenerationResult struct {
	Answer    string
	Usage     models.TokenUsage
	LatencyMs float64
	Model     string
}
