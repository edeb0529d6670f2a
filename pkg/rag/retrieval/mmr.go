// Package retrieval provides MMR (Maximal Marginal Relevance) for diversity
package retrieval

import "math"

// MMR implements Maximal Marginal Relevance for result diversity
type MMR struct {
	Lambda float64 // Balance between relevance (1.0) and diversity (0.0)
}

// NewMMR creates a new MMR instance. Lambdas outside [0, 1] fall back to 0.7.
func NewMMR(lambda float64) *MMR {
	if lambda < 0 || lambda > 1 {
		lambda = 0.7 // Default: 70% relevance, 30% diversity
	}
	return &MMR{
		Lambda: lambda,
	}
}

// Rerank selects up to topK results, balancing relevance to the query
// against similarity to results already selected. Candidates must arrive
// sorted by combined score descending; the top candidate seeds the
// selection. Candidates without embeddings are skipped.
func (m *MMR) Rerank(candidates []SearchResult, queryEmbedding []float32, topK int) []SearchResult {
	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}
	if len(candidates) <= 1 {
		return candidates
	}

	// Selected results (maintains order)
	selected := make([]SearchResult, 0, topK)
	selected = append(selected, candidates[0])
	remaining := make([]SearchResult, len(candidates)-1)
	copy(remaining, candidates[1:])

	// Iteratively select most diverse results
	for len(remaining) > 0 && len(selected) < topK {
		bestScore := -math.MaxFloat64
		bestIdx := -1

		for i, candidate := range remaining {
			// Skip if embedding is not available
			if len(candidate.Embedding) == 0 {
				continue
			}

			// Calculate relevance to query
			relevance := m.cosineSimilarity(candidate.Embedding, queryEmbedding)

			// Calculate maximum similarity to already selected documents
			maxSim := 0.0
			for _, sel := range selected {
				if len(sel.Embedding) == 0 {
					continue
				}
				sim := m.cosineSimilarity(candidate.Embedding, sel.Embedding)
				if sim > maxSim {
					maxSim = sim
				}
			}

			// MMR score: balance relevance and diversity
			mmrScore := m.Lambda*relevance - (1-m.Lambda)*maxSim

			if mmrScore > bestScore {
				bestScore = mmrScore
				bestIdx = i
			}
		}

		// No valid candidate found (all missing embeddings)
		if bestIdx < 0 {
			break
		}

		// Add best candidate to selected
		selected = append(selected, remaining[bestIdx])

		// Remove from remaining
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return selected
}

// cosineSimilarity calculates cosine similarity between two vectors
func (m *MMR) cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	if len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// GetDiversityScore calculates how diverse a set of results is
func (m *MMR) GetDiversityScore(results []SearchResult) float64 {
	if len(results) < 2 {
		return 1.0 // Perfectly diverse (trivially)
	}

	totalSimilarity := 0.0
	comparisons := 0

	for i := 0; i < len(results)-1; i++ {
		if len(results[i].Embedding) == 0 {
			continue
		}

		for j := i + 1; j < len(results); j++ {
			if len(results[j].Embedding) == 0 {
				continue
			}

			sim := m.cosineSimilarity(results[i].Embedding, results[j].Embedding)
			totalSimilarity += sim
			comparisons++
		}
	}

	if comparisons == 0 {
		return 1.0
	}

	avgSimilarity := totalSimilarity / float64(comparisons)

	// Diversity is inverse of average similarity
	return 1.0 - avgSimilarity
}
