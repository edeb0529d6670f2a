package protection

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/smartramana/ragmesh/pkg/config"
	ragerrors "github.com/smartramana/ragmesh/pkg/errors"
	"github.com/smartramana/ragmesh/pkg/observability"
	"github.com/smartramana/ragmesh/pkg/rowstore"
)

// UsageStats reports a tenant's consumption for the current UTC day
type UsageStats struct {
	TenantID        string          `json:"tenant_id"`
	Requests        int64           `json:"requests"`
	Tokens          int64           `json:"tokens"`
	Cost            decimal.Decimal `json:"cost"`
	TokensRemaining int64           `json:"tokens_remaining"`
	CostRemaining   decimal.Decimal `json:"cost_remaining"`
	ResetAt         time.Time       `json:"reset_at"`
}

// QuotaManager enforces daily token and cost ceilings per tenant. The day
// boundary is UTC midnight. Like the rate limiter it fails open when the
// usage query cannot be answered.
type QuotaManager struct {
	interactions rowstore.InteractionRepository
	tokenLimit   int64
	costLimit    decimal.Decimal
	logger       observability.Logger
	metrics      observability.MetricsClient

	now func() time.Time
}

// NewQuotaManager creates a quota gate over the interaction history. Zero
// config values fall back to 1M tokens and $10.00 per day.
func NewQuotaManager(
	interactions rowstore.InteractionRepository,
	cfg config.QuotaConfig,
	logger observability.Logger,
	metrics observability.MetricsClient,
) *QuotaManager {
	if logger == nil {
		logger = observability.NewLogger("quota")
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}
	tokenLimit := cfg.DailyTokenLimit
	if tokenLimit <= 0 {
		tokenLimit = 1_000_000
	}
	costLimit := decimal.NewFromFloat(cfg.DailyCostLimit)
	if costLimit.LessThanOrEqual(decimal.Zero) {
		costLimit = decimal.NewFromInt(10)
	}

	return &QuotaManager{
		interactions: interactions,
		tokenLimit:   tokenLimit,
		costLimit:    costLimit,
		logger:       logger,
		metrics:      metrics,
		now:          time.Now,
	}
}

// Check returns nil when the tenant is under both ceilings and a quota error
// naming the exhausted ceiling otherwise. Database failures admit the
// request.
func (m *QuotaManager) Check(ctx context.Context, tenantID string) error {
	usage, err := m.interactions.UsageSince(ctx, tenantID, m.dayStart())
	if err != nil {
		m.logger.Warn("Quota lookup failed, admitting request", map[string]interface{}{
			"tenant_id": tenantID,
			"error":     err.Error(),
		})
		m.metrics.IncrementCounter("rag_quota_fail_open_total", 1)
		return nil
	}

	var reason string
	switch {
	case usage.Tokens >= m.tokenLimit:
		reason = "daily token limit reached"
	case usage.Cost.GreaterThanOrEqual(m.costLimit):
		reason = "daily cost limit reached"
	default:
		return nil
	}

	resetAt := m.dayStart().Add(24 * time.Hour)
	m.logger.Warn("Daily quota exceeded", map[string]interface{}{
		"tenant_id": tenantID,
		"reason":    reason,
		"tokens":    usage.Tokens,
		"cost":      usage.Cost.String(),
		"reset_at":  resetAt.Format(time.RFC3339),
	})
	m.metrics.IncrementCounter("rag_quota_exceeded_total", 1)

	qe := &ragerrors.QuotaError{TenantID: tenantID, Reason: reason, ResetAt: resetAt}
	return qe.Classified()
}

// UsageStats reports today's consumption and the remaining headroom
func (m *QuotaManager) UsageStats(ctx context.Context, tenantID string) (*UsageStats, error) {
	usage, err := m.interactions.UsageSince(ctx, tenantID, m.dayStart())
	if err != nil {
		return nil, ragerrors.Wrap(err, "QUOTA_USAGE_QUERY", "failed to read tenant usage", ragerrors.ClassTransient)
	}

	stats := &UsageStats{
		TenantID:        tenantID,
		Requests:        usage.Requests,
		Tokens:          usage.Tokens,
		Cost:            usage.Cost,
		TokensRemaining: max(0, m.tokenLimit-usage.Tokens),
		CostRemaining:   m.costLimit.Sub(usage.Cost),
		ResetAt:         m.dayStart().Add(24 * time.Hour),
	}
	if stats.CostRemaining.IsNegative() {
		stats.CostRemaining = decimal.Zero
	}
	return stats, nil
}

// TopTenants ranks today's tenants by token consumption
func (m *QuotaManager) TopTenants(ctx context.Context, limit int) ([]rowstore.TenantUsage, error) {
	usages, err := m.interactions.TopUsageSince(ctx, m.dayStart(), limit)
	if err != nil {
		return nil, ragerrors.Wrap(err, "QUOTA_TOP_TENANTS", "failed to rank tenant usage", ragerrors.ClassTransient)
	}
	return usages, nil
}

// dayStart is the current UTC midnight
func (m *QuotaManager) dayStart() time.Time {
	now := m.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
