// Package contextopt prepares retrieved chunks for prompting: it removes
// near-duplicate chunks, trims the set to the context token budget, and
// reorders survivors so the strongest evidence sits at the edges of the
// context window where model attention is highest.
package contextopt

import (
	"math"
	"sort"

	"github.com/smartramana/ragmesh/pkg/observability"
	"github.com/smartramana/ragmesh/pkg/rag/retrieval"
)

// similarityThreshold is the pairwise cosine above which two chunks are
// treated as the same content.
const similarityThreshold = 0.95

// BudgetManager is the slice of the token budget manager the optimizer needs.
type BudgetManager interface {
	CountTokens(text string) int
	TruncateToBudget(texts []string, scores []float64, budgetTokens int) []int
}

// Optimizer shapes a ranked retrieval slate into prompt-ready context.
type Optimizer struct {
	budget  BudgetManager
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewOptimizer creates an optimizer backed by the shared budget manager.
func NewOptimizer(budget BudgetManager, logger observability.Logger, metrics observability.MetricsClient) *Optimizer {
	if logger == nil {
		logger = observability.NewLogger("rag.contextopt")
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}
	return &Optimizer{
		budget:  budget,
		logger:  logger,
		metrics: metrics,
	}
}

// Optimize runs the three passes in order: deduplicate, trim to budget,
// reorder. An empty input returns an empty slate without error.
func (o *Optimizer) Optimize(results []retrieval.SearchResult, budgetTokens int) []retrieval.SearchResult {
	if len(results) == 0 {
		return []retrieval.SearchResult{}
	}

	deduplicated := o.removeNearDuplicates(results)
	trimmed := o.trimToBudget(deduplicated, budgetTokens)
	reordered := o.reorderForAttention(trimmed)

	finalTokens := 0
	for i := range reordered {
		finalTokens += o.budget.CountTokens(reordered[i].Content)
	}

	o.logger.Info("Context optimization complete", map[string]interface{}{
		"initial_count": len(results),
		"after_dedup":   len(deduplicated),
		"final_count":   len(reordered),
		"final_tokens":  finalTokens,
		"budget_tokens": budgetTokens,
		"removed_total": len(results) - len(reordered),
	})
	o.metrics.RecordGauge("rag_context_chunks", float64(len(reordered)), map[string]string{"stage": "final"})
	o.metrics.RecordGauge("rag_context_tokens", float64(finalTokens), nil)

	return reordered
}

// removeNearDuplicates drops chunks whose embedding cosine similarity with an
// earlier chunk exceeds the threshold, keeping whichever of the pair has the
// higher combined score. On equal scores the earlier chunk survives. Chunks
// without embeddings cannot be compared and always survive.
func (o *Optimizer) removeNearDuplicates(results []retrieval.SearchResult) []retrieval.SearchResult {
	if len(results) <= 1 {
		return results
	}

	keep := make([]bool, len(results))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(results); i++ {
		if !keep[i] || len(results[i].Embedding) == 0 {
			continue
		}
		for j := i + 1; j < len(results); j++ {
			if !keep[j] || len(results[j].Embedding) == 0 {
				continue
			}
			similarity := cosineSimilarity(results[i].Embedding, results[j].Embedding)
			if similarity <= similarityThreshold {
				continue
			}
			if results[j].Score > results[i].Score {
				keep[i] = false
				o.logger.Debug("Removed near-duplicate chunk", map[string]interface{}{
					"chunk_id":   results[i].ChunkID,
					"kept_id":    results[j].ChunkID,
					"similarity": similarity,
				})
				break
			}
			keep[j] = false
			o.logger.Debug("Removed near-duplicate chunk", map[string]interface{}{
				"chunk_id":   results[j].ChunkID,
				"kept_id":    results[i].ChunkID,
				"similarity": similarity,
			})
		}
	}

	deduplicated := make([]retrieval.SearchResult, 0, len(results))
	for i, r := range results {
		if keep[i] {
			deduplicated = append(deduplicated, r)
		}
	}
	return deduplicated
}

// trimToBudget keeps the highest-scoring chunks whose contents fit within
// budgetTokens, preserving their original relative order.
func (o *Optimizer) trimToBudget(results []retrieval.SearchResult, budgetTokens int) []retrieval.SearchResult {
	if len(results) == 0 {
		return results
	}

	texts := make([]string, len(results))
	scores := make([]float64, len(results))
	for i, r := range results {
		texts[i] = r.Content
		scores[i] = r.Score
	}

	selected := o.budget.TruncateToBudget(texts, scores, budgetTokens)
	trimmed := make([]retrieval.SearchResult, 0, len(selected))
	for _, idx := range selected {
		trimmed = append(trimmed, results[idx])
	}

	if len(trimmed) < len(results) {
		o.logger.Debug("Trimmed context to budget", map[string]interface{}{
			"before":        len(results),
			"after":         len(trimmed),
			"budget_tokens": budgetTokens,
		})
	}
	return trimmed
}

// reorderForAttention mitigates lost-in-the-middle: chunks are ranked by
// score descending, even ranks fill the front half in order and odd ranks
// fill the back half reversed, so ranks 1 and 2 end up at the two edges.
// Scores [.9 .8 .7 .6 .5] come out as [.9 .7 .5 .6 .8].
func (o *Optimizer) reorderForAttention(results []retrieval.SearchResult) []retrieval.SearchResult {
	if len(results) <= 2 {
		return results
	}

	ranked := make([]retrieval.SearchResult, len(results))
	copy(ranked, results)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if ranked[i].ChunkIndex != ranked[j].ChunkIndex {
			return ranked[i].ChunkIndex < ranked[j].ChunkIndex
		}
		return ranked[i].ChunkID < ranked[j].ChunkID
	})

	front := make([]retrieval.SearchResult, 0, (len(ranked)+1)/2)
	back := make([]retrieval.SearchResult, 0, len(ranked)/2)
	for rank, r := range ranked {
		if rank%2 == 0 {
			front = append(front, r)
		} else {
			back = append(back, r)
		}
	}

	reordered := front
	for i := len(back) - 1; i >= 0; i-- {
		reordered = append(reordered, back[i])
	}
	return reordered
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
