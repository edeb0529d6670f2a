package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Interaction is the append-only record of one answered chat request. Its id
// is returned to the caller so feedback can bind to it.
type Interaction struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	TenantID         string          `json:"tenant_id" db:"tenant_id"`
	Query            string          `json:"query" db:"query"`
	Answer           string          `json:"answer" db:"answer"`
	Citations        IntList         `json:"citations" db:"citations"`
	ConfidenceScore  float64         `json:"confidence_score" db:"confidence_score"`
	Sources          SourceList      `json:"sources" db:"sources"`
	PromptTokens     int             `json:"prompt_tokens" db:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens" db:"completion_tokens"`
	TotalTokens      int             `json:"total_tokens" db:"total_tokens"`
	LatencyMs        float64         `json:"latency_ms" db:"latency_ms"`
	CostEstimate     decimal.Decimal `json:"cost_estimate" db:"cost_estimate"`
	ModelName        string          `json:"model_name" db:"model_name"`
	QueryClass       string          `json:"query_class" db:"query_class"`
	Degraded         bool            `json:"degraded" db:"degraded"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// Feedback is the zero-or-one rating attached to an interaction.
// Resubmission replaces the prior values in place.
type Feedback struct {
	ID            uuid.UUID `json:"id" db:"id"`
	InteractionID uuid.UUID `json:"interaction_id" db:"interaction_id"`
	Rating        int       `json:"rating" db:"rating"`
	Comment       *string   `json:"comment,omitempty" db:"comment"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
