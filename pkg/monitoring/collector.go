package monitoring

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/smartramana/ragmesh/pkg/models"
	"github.com/smartramana/ragmesh/pkg/observability"
)

// rollingWindow bounds the in-memory sample kept for percentile snapshots
const rollingWindow = 1024

// LatencyMetrics is the per-stage latency breakdown of one request
type LatencyMetrics struct {
	TotalMs      float64 `json:"total_ms"`
	RetrievalMs  float64 `json:"retrieval_ms"`
	PromptMs     float64 `json:"prompt_ms"`
	GenerationMs float64 `json:"generation_ms"`
	ValidationMs float64 `json:"validation_ms"`
}

// QualityMetrics describes how trustworthy one answer looked
type QualityMetrics struct {
	ConfidenceScore   float64 `json:"confidence_score"`
	Citations         int     `json:"citations"`
	HasHallucinations bool    `json:"has_hallucinations"`
}

// InteractionMetrics is the full measurement of one answered request
type InteractionMetrics struct {
	InteractionID string
	TenantID      string
	Model         string
	QueryClass    string
	Degraded      bool
	Latency       LatencyMetrics
	Tokens        models.TokenUsage
	Quality       QualityMetrics
	Cost          decimal.Decimal
}

// MetricsCollector emits per-interaction measurements to the metrics backend
// and keeps a bounded rolling sample for latency percentile and confidence
// distribution snapshots.
type MetricsCollector struct {
	metrics observability.MetricsClient
	logger  observability.Logger

	mu          sync.Mutex
	latencies   []float64
	confidences []float64
}

// NewMetricsCollector creates a collector
func NewMetricsCollector(metrics observability.MetricsClient, logger observability.Logger) *MetricsCollector {
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}
	if logger == nil {
		logger = observability.NewLogger("metrics")
	}
	return &MetricsCollector{metrics: metrics, logger: logger}
}

// RecordInteraction publishes one request's measurements
func (c *MetricsCollector) RecordInteraction(m InteractionMetrics) {
	labels := map[string]string{
		"model":       m.Model,
		"query_class": m.QueryClass,
	}

	c.metrics.IncrementCounterWithLabels("rag_requests_total", 1, labels)
	if m.Degraded {
		c.metrics.IncrementCounter("rag_requests_degraded_total", 1)
	}

	c.metrics.RecordHistogram("rag_latency_ms", m.Latency.TotalMs, map[string]string{"stage": "total"})
	c.recordStage("retrieval", m.Latency.RetrievalMs)
	c.recordStage("prompt", m.Latency.PromptMs)
	c.recordStage("generation", m.Latency.GenerationMs)
	c.recordStage("validation", m.Latency.ValidationMs)

	c.metrics.RecordHistogram("rag_tokens_total", float64(m.Tokens.TotalTokens), labels)
	c.metrics.RecordHistogram("rag_cost_usd", m.Cost.InexactFloat64(), labels)

	c.metrics.RecordHistogram("rag_confidence_score", m.Quality.ConfidenceScore, map[string]string{
		"bucket": ConfidenceBucket(m.Quality.ConfidenceScore),
	})
	if m.Quality.HasHallucinations {
		c.metrics.IncrementCounter("rag_hallucinations_total", 1)
	}

	c.mu.Lock()
	c.latencies = appendBounded(c.latencies, m.Latency.TotalMs)
	c.confidences = appendBounded(c.confidences, m.Quality.ConfidenceScore)
	c.mu.Unlock()

	c.logger.Info("Interaction metrics recorded", map[string]interface{}{
		"interaction_id": m.InteractionID,
		"tenant_id":      m.TenantID,
		"total_ms":       m.Latency.TotalMs,
		"total_tokens":   m.Tokens.TotalTokens,
		"confidence":     m.Quality.ConfidenceScore,
		"cost":           m.Cost.String(),
	})
}

func (c *MetricsCollector) recordStage(stage string, ms float64) {
	if ms <= 0 {
		return
	}
	c.metrics.RecordHistogram("rag_latency_ms", ms, map[string]string{"stage": stage})
}

// LatencyPercentiles snapshots p50..p99 plus min and max over the rolling
// window. Empty when nothing has been recorded yet.
func (c *MetricsCollector) LatencyPercentiles() map[string]float64 {
	c.mu.Lock()
	sample := make([]float64, len(c.latencies))
	copy(sample, c.latencies)
	c.mu.Unlock()

	if len(sample) == 0 {
		return map[string]float64{}
	}
	sort.Float64s(sample)

	return map[string]float64{
		"p50": Percentile(sample, 0.50),
		"p75": Percentile(sample, 0.75),
		"p90": Percentile(sample, 0.90),
		"p95": Percentile(sample, 0.95),
		"p99": Percentile(sample, 0.99),
		"min": sample[0],
		"max": sample[len(sample)-1],
	}
}

// ConfidenceDistribution counts recorded confidence scores per bucket
func (c *MetricsCollector) ConfidenceDistribution() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	distribution := map[string]int{
		"very_low": 0,
		"low":      0,
		"medium":   0,
		"high":     0,
	}
	for _, score := range c.confidences {
		distribution[ConfidenceBucket(score)]++
	}
	return distribution
}

// Percentile interpolates linearly between the two nearest ranks of sorted
// data. p is a fraction in [0,1].
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	k := float64(len(sorted)-1) * p
	f := int(k)
	c := f + 1
	if c >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[f] + (k-float64(f))*(sorted[c]-sorted[f])
}

// ConfidenceBucket names the band a confidence score falls in
func ConfidenceBucket(score float64) string {
	switch {
	case score < 0.5:
		return "very_low"
	case score < 0.7:
		return "low"
	case score < 0.85:
		return "medium"
	default:
		return "high"
	}
}

// appendBounded appends while holding the slice at the rolling window size
func appendBounded(samples []float64, value float64) []float64 {
	if len(samples) >= rollingWindow {
		samples = samples[1:]
	}
	return append(samples, value)
}
