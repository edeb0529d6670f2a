// Package chat orchestrates one question through the full pipeline:
// admission (load profile, rate limit, quota), hybrid retrieval, context
// shaping, prompt assembly, breaker-guarded generation, citation validation,
// and persistence with cost and latency accounting. The answer is returned
// even when persistence fails; only admission and generation errors abort.
package chat

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	ragerrors "github.com/smartramana/ragmesh/pkg/errors"
	"github.com/smartramana/ragmesh/pkg/models"
	"github.com/smartramana/ragmesh/pkg/monitoring"
	"github.com/smartramana/ragmesh/pkg/observability"
	"github.com/smartramana/ragmesh/pkg/protection"
	"github.com/smartramana/ragmesh/pkg/rag/budget"
	"github.com/smartramana/ragmesh/pkg/rag/generate"
	"github.com/smartramana/ragmesh/pkg/rag/prompt"
	"github.com/smartramana/ragmesh/pkg/rag/retrieval"
)

// noResultsAnswer is returned verbatim when retrieval finds nothing. No
// generation happens and nothing is persisted.
const noResultsAnswer = "I don't have any relevant documents to answer this question. This could mean:\n" +
	"1. No documents have been uploaded for your account\n" +
	"2. Your query doesn't match any indexed content\n" +
	"3. The specified document doesn't exist\n\n" +
	"Please try uploading documents first or rephrasing your question."

// unsavedWarning is appended when the interaction row could not be written.
const unsavedWarning = "Interaction could not be saved"

// Retriever runs the hybrid retrieval pipeline.
type Retriever interface {
	RetrieveWithOptions(ctx context.Context, tenantID, query string, opts retrieval.SearchOptions) (*retrieval.RetrievalResult, error)
}

// BudgetCalculator computes the context token budget for a request.
type BudgetCalculator interface {
	Calculate(query, systemPrompt string) (budget.Budget, error)
}

// ContextOptimizer shapes a ranked slate to fit the context budget.
type ContextOptimizer interface {
	Optimize(results []retrieval.SearchResult, budgetTokens int) []retrieval.SearchResult
}

// PromptBuilder assembles the system and user prompts with source numbering.
type PromptBuilder interface {
	Build(query string, results []retrieval.SearchResult, filenames map[string]string) (*prompt.Prompt, error)
}

// AnswerValidator audits citations and scores confidence.
type AnswerValidator interface {
	Validate(answer string, sourceMap map[int]models.SourceInfo) generate.Validation
}

// RateGate admits or rejects a request under the per-tenant rate limit.
type RateGate interface {
	Allow(ctx context.Context, tenantID string) error
}

// QuotaGate admits or rejects a request under the daily tenant quota.
type QuotaGate interface {
	Check(ctx context.Context, tenantID string) error
}

// GenerationBreaker guards the upstream model call. Allow is checked before
// generation and the outcome is reported back afterwards.
type GenerationBreaker interface {
	Allow() error
	RecordSuccess()
	RecordFailure()
}

// LoadProfiler resolves the degradation profile for the current load level.
type LoadProfiler interface {
	Profile(requestedTopK, requestedMaxTokens int) protection.Profile
}

// FilenameResolver maps document ids to uploaded filenames for source labels.
type FilenameResolver interface {
	FilenamesByIDs(ctx context.Context, ids []uuid.UUID) (map[string]string, error)
}

// InteractionStore persists answered interactions.
type InteractionStore interface {
	Insert(ctx context.Context, interaction *models.Interaction) error
}

// CostEstimator prices one generation.
type CostEstimator interface {
	Cost(modelName string, promptTokens, completionTokens int) decimal.Decimal
}

// Deps wires the pipeline stages into the service. All collaborators are
// required except Logger and Metrics, which default like everywhere else.
type Deps struct {
	Shedder      LoadProfiler
	RateLimiter  RateGate
	Quota        QuotaGate
	Retriever    Retriever
	Budget       BudgetCalculator
	Optimizer    ContextOptimizer
	Prompts      PromptBuilder
	Breaker      GenerationBreaker
	Generator    generate.Generator
	Validator    AnswerValidator
	Costs        CostEstimator
	Collector    *monitoring.MetricsCollector
	Documents    FilenameResolver
	Interactions InteractionStore
	Logger       observability.Logger
	Metrics      observability.MetricsClient
}

// Service answers chat requests.
type Service struct {
	deps    Deps
	logger  observability.Logger
	metrics observability.MetricsClient

	now func() time.Time
}

// NewService creates the chat orchestrator.
func NewService(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger("rag.chat")
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewNoOpMetricsClient()
	}
	if deps.Costs == nil {
		deps.Costs = monitoring.NewCostTracker(nil)
	}
	if deps.Collector == nil {
		deps.Collector = monitoring.NewMetricsCollector(deps.Metrics, deps.Logger)
	}
	return &Service{
		deps:    deps,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		now:     time.Now,
	}
}

// Answer runs one request through the pipeline. A nil error with a response
// carrying warnings is still a served answer; errors are classified so the
// transport layer can map them to status codes.
func (s *Service) Answer(ctx context.Context, req models.ChatRequest) (*models.AnswerResponse, error) {
	start := s.now()

	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return nil, ragerrors.Wrap(err, "CHAT_INVALID_REQUEST", "invalid chat request", ragerrors.ClassValidation)
	}
	if req.DocumentID != "" {
		if _, err := uuid.Parse(req.DocumentID); err != nil {
			s.logger.Warn("Ignoring malformed document filter", map[string]interface{}{
				"tenant_id":   req.TenantID,
				"document_id": req.DocumentID,
			})
			req.DocumentID = ""
		}
	}

	profile := s.deps.Shedder.Profile(req.TopK, generate.DefaultMaxOutputTokens)
	if profile.Reject {
		s.metrics.IncrementCounter("rag_requests_rejected_total", 1)
		return nil, ragerrors.New("CHAT_OVERLOADED", "service is under critical load, retry shortly", ragerrors.ClassOverloaded)
	}

	if err := s.deps.RateLimiter.Allow(ctx, req.TenantID); err != nil {
		return nil, err
	}
	if err := s.deps.Quota.Check(ctx, req.TenantID); err != nil {
		return nil, err
	}

	retrieved, retrievalMs, err := s.retrieve(ctx, req, profile)
	if err != nil {
		return nil, err
	}
	if len(retrieved.Results) == 0 {
		s.logger.Warn("No results retrieved for query", map[string]interface{}{
			"tenant_id":   req.TenantID,
			"query_class": string(retrieved.Class),
		})
		s.metrics.IncrementCounter("rag_no_results_total", 1)
		resp := emptyResponse(profile.Degraded)
		resp.LatencyMs = s.sinceMs(start)
		return resp, nil
	}

	promptStart := s.now()
	b, err := s.deps.Budget.Calculate(req.Query, prompt.SystemInstructions)
	if err != nil {
		return nil, err
	}
	optimized := s.deps.Optimizer.Optimize(retrieved.Results, b.ContextBudget)
	assembled, err := s.deps.Prompts.Build(req.Query, optimized, s.filenames(ctx, optimized))
	if err != nil {
		return nil, err
	}
	promptMs := s.sinceMs(promptStart)

	if err := s.deps.Breaker.Allow(); err != nil {
		return nil, err
	}
	result, err := s.deps.Generator.Generate(ctx, generate.GenerationRequest{
		System:          assembled.System,
		User:            assembled.User,
		Temperature:     profile.Temperature,
		MaxOutputTokens: profile.MaxOutputTokens,
		TimeoutSeconds:  int(profile.GenerationTimeout.Seconds()),
	})
	if err != nil {
		s.deps.Breaker.RecordFailure()
		return nil, err
	}
	s.deps.Breaker.RecordSuccess()

	validationStart := s.now()
	validation := s.deps.Validator.Validate(result.Answer, assembled.SourceMap)
	validationMs := s.sinceMs(validationStart)

	cost := s.deps.Costs.Cost(result.Model, result.Usage.PromptTokens, result.Usage.CompletionTokens)
	sources := sortedSources(assembled.SourceMap)
	warnings := validation.Warnings

	interaction := &models.Interaction{
		ID:               uuid.New(),
		TenantID:         req.TenantID,
		Query:            req.Query,
		Answer:           result.Answer,
		Citations:        models.IntList(validation.Citations),
		ConfidenceScore:  validation.Confidence,
		Sources:          models.SourceList(sources),
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
		TotalTokens:      result.Usage.TotalTokens,
		LatencyMs:        s.sinceMs(start),
		CostEstimate:     cost,
		ModelName:        result.Model,
		QueryClass:       string(retrieved.Class),
		Degraded:         profile.Degraded,
	}

	interactionID := ""
	if err := s.deps.Interactions.Insert(ctx, interaction); err != nil {
		s.logger.Error("Failed to persist interaction", map[string]interface{}{
			"tenant_id": req.TenantID,
			"error":     err.Error(),
		})
		warnings = append(warnings, unsavedWarning)
	} else {
		interactionID = interaction.ID.String()
	}

	totalMs := s.sinceMs(start)
	s.deps.Collector.RecordInteraction(monitoring.InteractionMetrics{
		InteractionID: interactionID,
		TenantID:      req.TenantID,
		Model:         result.Model,
		QueryClass:    string(retrieved.Class),
		Degraded:      profile.Degraded,
		Latency: monitoring.LatencyMetrics{
			TotalMs:      totalMs,
			RetrievalMs:  retrievalMs,
			PromptMs:     promptMs,
			GenerationMs: result.LatencyMs,
			ValidationMs: validationMs,
		},
		Tokens: result.Usage,
		Quality: monitoring.QualityMetrics{
			ConfidenceScore:   validation.Confidence,
			Citations:         len(validation.Citations),
			HasHallucinations: validation.HasHallucination,
		},
		Cost: cost,
	})

	s.logger.Info("Chat request answered", map[string]interface{}{
		"tenant_id":     req.TenantID,
		"query_class":   string(retrieved.Class),
		"sources":       len(sources),
		"citations":     len(validation.Citations),
		"confidence":    validation.Confidence,
		"degraded":      profile.Degraded,
		"total_ms":      totalMs,
		"retrieval_ms":  retrievalMs,
		"prompt_ms":     promptMs,
		"generation_ms": result.LatencyMs,
		"validation_ms": validationMs,
	})

	return &models.AnswerResponse{
		InteractionID:   interactionID,
		Answer:          result.Answer,
		Citations:       validation.Citations,
		ConfidenceScore: validation.Confidence,
		Sources:         sources,
		TokenUsage:      &result.Usage,
		LatencyMs:       totalMs,
		Warnings:        warnings,
		Degraded:        profile.Degraded,
	}, nil
}

// retrieve runs retrieval under the profile's timeout with its top_k and MMR
// overrides applied.
func (s *Service) retrieve(ctx context.Context, req models.ChatRequest, profile protection.Profile) (*retrieval.RetrievalResult, float64, error) {
	opts := retrieval.DefaultSearchOptions()
	opts.TopK = profile.TopK
	opts.DocumentID = req.DocumentID
	switch profile.MMR {
	case protection.MMRForceOn:
		opts.ApplyMMR = true
	case protection.MMRForceOff:
		opts.ApplyMMR = false
	}

	retrievalCtx, cancel := context.WithTimeout(ctx, profile.RetrievalTimeout)
	defer cancel()

	retrievalStart := s.now()
	retrieved, err := s.deps.Retriever.RetrieveWithOptions(retrievalCtx, req.TenantID, req.Query, opts)
	if err != nil {
		return nil, 0, err
	}
	return retrieved, s.sinceMs(retrievalStart), nil
}

// filenames resolves the document labels for the prompt. Lookup failures are
// logged and degrade to the shortened-id fallback rather than failing the
// request.
func (s *Service) filenames(ctx context.Context, results []retrieval.SearchResult) map[string]string {
	seen := make(map[string]bool, len(results))
	ids := make([]uuid.UUID, 0, len(results))
	for _, r := range results {
		if seen[r.DocumentID] {
			continue
		}
		seen[r.DocumentID] = true
		id, err := uuid.Parse(r.DocumentID)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return map[string]string{}
	}

	names, err := s.deps.Documents.FilenamesByIDs(ctx, ids)
	if err != nil {
		s.logger.Warn("Failed to resolve document filenames", map[string]interface{}{
			"documents": len(ids),
			"error":     err.Error(),
		})
		return map[string]string{}
	}
	return names
}

// emptyResponse is the canned reply for empty retrieval.
func emptyResponse(degraded bool) *models.AnswerResponse {
	return &models.AnswerResponse{
		Answer:          noResultsAnswer,
		Citations:       []int{},
		ConfidenceScore: 0.0,
		Sources:         []models.SourceInfo{},
		Warnings: []string{
			"No relevant documents found for query",
			"Unable to provide a factual answer",
		},
		Degraded: degraded,
	}
}

// sortedSources flattens the source map in source number order.
func sortedSources(sourceMap map[int]models.SourceInfo) []models.SourceInfo {
	sources := make([]models.SourceInfo, 0, len(sourceMap))
	for _, info := range sourceMap {
		sources = append(sources, info)
	}
	sort.Slice(sources, func(i, j int) bool {
		return sources[i].SourceNumber < sources[j].SourceNumber
	})
	return sources
}

func (s *Service) sinceMs(t time.Time) float64 {
	return float64(s.now().Sub(t).Microseconds()) / 1000.0
}
