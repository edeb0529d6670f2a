package rowstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/smartramana/ragmesh/pkg/database"
	"github.com/smartramana/ragmesh/pkg/models"
	"github.com/smartramana/ragmesh/pkg/observability"
)

// Usage aggregates a tenant's consumption over a window.
type Usage struct {
	Requests int64           `db:"requests"`
	Tokens   int64           `db:"tokens"`
	Cost     decimal.Decimal `db:"cost"`
}

// TenantUsage is Usage attributed to one tenant, for ranking reports.
type TenantUsage struct {
	TenantID string          `db:"tenant_id"`
	Requests int64           `db:"requests"`
	Tokens   int64           `db:"tokens"`
	Cost     decimal.Decimal `db:"cost"`
}

// InteractionRepository persists answered chat requests and reports usage.
type InteractionRepository interface {
	Insert(ctx context.Context, interaction *models.Interaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Interaction, error)
	// UsageSince sums a tenant's requests, tokens and cost from the given
	// instant. The quota gate calls it with the current UTC midnight.
	UsageSince(ctx context.Context, tenantID string, since time.Time) (Usage, error)
	// TopUsageSince ranks tenants by token consumption.
	TopUsageSince(ctx context.Context, since time.Time, limit int) ([]TenantUsage, error)
}

type interactionRepository struct {
	db     *sqlx.DB
	logger observability.Logger
}

// NewInteractionRepository creates the interaction repository
func NewInteractionRepository(db *database.Database, logger observability.Logger) InteractionRepository {
	if logger == nil {
		logger = observability.NewLogger("rowstore")
	}
	return &interactionRepository{db: db.DB(), logger: logger}
}

func (r *interactionRepository) Insert(ctx context.Context, interaction *models.Interaction) error {
	if interaction.ID == uuid.Nil {
		interaction.ID = uuid.New()
	}

	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO chat_interactions (
			id, tenant_id, query, answer, citations, confidence_score,
			sources, prompt_tokens, completion_tokens, total_tokens,
			latency_ms, cost_estimate, model_name, query_class, degraded
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at`,
		interaction.ID, interaction.TenantID, interaction.Query, interaction.Answer,
		interaction.Citations, interaction.ConfidenceScore, interaction.Sources,
		interaction.PromptTokens, interaction.CompletionTokens, interaction.TotalTokens,
		interaction.LatencyMs, interaction.CostEstimate, interaction.ModelName,
		interaction.QueryClass, interaction.Degraded,
	).Scan(&interaction.CreatedAt)
	if err != nil {
		return database.TranslateError(err)
	}

	r.logger.Debug("Interaction persisted", map[string]interface{}{
		"interaction_id": interaction.ID.String(),
		"tenant_id":      interaction.TenantID,
		"total_tokens":   interaction.TotalTokens,
	})
	return nil
}

func (r *interactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Interaction, error) {
	var interaction models.Interaction
	err := r.db.GetContext(ctx, &interaction, `
		SELECT
			id, tenant_id, query, answer, citations, confidence_score,
			sources, prompt_tokens, completion_tokens, total_tokens,
			latency_ms, cost_estimate, model_name, query_class, degraded,
			created_at
		FROM chat_interactions
		WHERE id = $1`, id)
	if err != nil {
		return nil, database.TranslateError(err)
	}
	return &interaction, nil
}

func (r *interactionRepository) UsageSince(ctx context.Context, tenantID string, since time.Time) (Usage, error) {
	var usage Usage
	err := r.db.GetContext(ctx, &usage, `
		SELECT
			count(*) AS requests,
			COALESCE(SUM(total_tokens), 0) AS tokens,
			COALESCE(SUM(cost_estimate), 0) AS cost
		FROM chat_interactions
		WHERE tenant_id = $1 AND created_at >= $2`, tenantID, since)
	if err != nil {
		return Usage{}, database.TranslateError(err)
	}
	return usage, nil
}

func (r *interactionRepository) TopUsageSince(ctx context.Context, since time.Time, limit int) ([]TenantUsage, error) {
	if limit <= 0 {
		limit = 10
	}

	var usages []TenantUsage
	err := r.db.SelectContext(ctx, &usages, `
		SELECT
			tenant_id,
			count(*) AS requests,
			COALESCE(SUM(total_tokens), 0) AS tokens,
			COALESCE(SUM(cost_estimate), 0) AS cost
		FROM chat_interactions
		WHERE created_at >= $1
		GROUP BY tenant_id
		ORDER BY tokens DESC
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, database.TranslateError(err)
	}
	return usages, nil
}
