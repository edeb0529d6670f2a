package models

import (
	"fmt"
	"strings"
)

// Query and tenant limits enforced on every chat request.
const (
	MaxQueryLength   = 10000
	MaxTenantIDLen   = 255
	DefaultTopK      = 5
	MaxTopK          = 20
	MaxCommentLength = 2000
)

// ChatRequest is the payload of the chat endpoint.
type ChatRequest struct {
	Query      string `json:"query"`
	TenantID   string `json:"tenant_id"`
	DocumentID string `json:"document_id,omitempty"`
	TopK       int    `json:"top_k,omitempty"`
}

// ApplyDefaults fills optional fields, so Validate sees the effective values.
func (r *ChatRequest) ApplyDefaults() {
	if r.TopK == 0 {
		r.TopK = DefaultTopK
	}
}

// Validate checks the request against the endpoint limits
func (r *ChatRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return fmt.Errorf("query must not be empty")
	}
	if len(r.Query) > MaxQueryLength {
		return fmt.Errorf("query exceeds %d characters", MaxQueryLength)
	}
	if r.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if len(r.TenantID) > MaxTenantIDLen {
		return fmt.Errorf("tenant_id exceeds %d characters", MaxTenantIDLen)
	}
	if r.TopK < 1 || r.TopK > MaxTopK {
		return fmt.Errorf("top_k must be between 1 and %d", MaxTopK)
	}
	return nil
}

// SourceInfo attributes one numbered source block of the prompt to its chunk.
type SourceInfo struct {
	SourceNumber int     `json:"source_number"`
	ChunkID      string  `json:"chunk_id"`
	DocumentID   string  `json:"document_id"`
	SectionTitle string  `json:"section_title,omitempty"`
	PageNumber   *int    `json:"page_number,omitempty"`
	Score        float64 `json:"score"`
}

// TokenUsage reports prompt and completion token counts for one generation.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// AnswerResponse is the chat endpoint's reply. InteractionID is empty when
// the interaction could not be persisted (the answer is still returned) and
// when retrieval found nothing.
type AnswerResponse struct {
	InteractionID   string       `json:"interaction_id,omitempty"`
	Answer          string       `json:"answer"`
	Citations       []int        `json:"citations"`
	ConfidenceScore float64      `json:"confidence_score"`
	Sources         []SourceInfo `json:"sources"`
	TokenUsage      *TokenUsage  `json:"token_usage,omitempty"`
	LatencyMs       float64      `json:"latency_ms"`
	Warnings        []string     `json:"warnings"`
	Degraded        bool         `json:"degraded,omitempty"`
}

// FeedbackRequest binds a rating to a prior interaction.
type FeedbackRequest struct {
	InteractionID string `json:"interaction_id"`
	Rating        int    `json:"rating"`
	Comment       string `json:"comment,omitempty"`
}

// Validate checks the feedback payload
func (r *FeedbackRequest) Validate() error {
	if r.InteractionID == "" {
		return fmt.Errorf("interaction_id is required")
	}
	if r.Rating < 1 || r.Rating > 5 {
		return fmt.Errorf("rating must be between 1 and 5")
	}
	if len(r.Comment) > MaxCommentLength {
		return fmt.Errorf("comment exceeds %d characters", MaxCommentLength)
	}
	return nil
}

// FeedbackResponse acknowledges a feedback submission.
type FeedbackResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	FeedbackID string `json:"feedback_id,omitempty"`
}
