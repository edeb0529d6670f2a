package embedding

import (
	"context"

	"github.com/smartramana/ragmesh/pkg/chunking"
	ragerrors "github.com/smartramana/ragmesh/pkg/errors"
	"github.com/smartramana/ragmesh/pkg/observability"
)

// generateBatchSize caps how many texts go to the model in one request
const generateBatchSize = 100

// Service embeds chunks with content-hash deduplication and caching
type Service struct {
	client  Client
	cache   Cache
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewService creates an embedding service
func NewService(client Client, cache Cache, logger observability.Logger, metrics observability.MetricsClient) *Service {
	if logger == nil {
		logger = observability.NewLogger("embedding.service")
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}
	return &Service{
		client:  client,
		cache:   cache,
		logger:  logger,
		metrics: metrics,
	}
}

// EmbedChunks embeds chunks for indexing. Duplicate content is embedded once
// and the vector is shared. Chunks that end up without an embedding are
// dropped with a warning rather than written half-formed.
func (s *Service) EmbedChunks(ctx context.Context, chunks []chunking.Chunk) ([]EmbeddedChunk, error) {
	if len(chunks) == 0 {
		return []EmbeddedChunk{}, nil
	}

	uniqueHashes, firstByHash := deduplicate(chunks)

	cached := s.cache.GetBatch(ctx, uniqueHashes)

	var missing []string
	for _, hash := range uniqueHashes {
		if _, ok := cached[hash]; !ok {
			missing = append(missing, hash)
		}
	}

	generated := make(map[string][]float32, len(missing))
	for start := 0; start < len(missing); start += generateBatchSize {
		end := start + generateBatchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]

		texts := make([]string, len(batch))
		for i, hash := range batch {
			texts[i] = firstByHash[hash].Content
		}

		vectors, err := s.client.EmbedBatch(ctx, texts, TaskTypeDocument)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(batch) {
			return nil, ragerrors.Newf("EMBED_COUNT_MISMATCH", ragerrors.ClassPermanent,
				"embedding client returned %d vectors for %d texts", len(vectors), len(batch))
		}
		for i, hash := range batch {
			generated[hash] = vectors[i]
		}
	}

	if len(generated) > 0 {
		stored := s.cache.SetBatch(ctx, generated)
		if stored < len(generated) {
			s.logger.Warn("Some embeddings were not cached", map[string]interface{}{
				"generated": len(generated),
				"stored":    stored,
			})
		}
	}

	embeddings := make(map[string][]float32, len(cached)+len(generated))
	for hash, vec := range cached {
		if len(vec) > 0 {
			embeddings[hash] = vec
		}
	}
	for hash, vec := range generated {
		if len(vec) > 0 {
			embeddings[hash] = vec
		}
	}

	dropped := 0
	result := make([]EmbeddedChunk, 0, len(chunks))
	for _, chunk := range chunks {
		vec, ok := embeddings[chunk.ContentHash]
		if !ok {
			dropped++
			s.logger.Warn("No embedding for chunk, dropping", map[string]interface{}{
				"chunk_index":  chunk.ChunkIndex,
				"content_hash": shortHash(chunk.ContentHash),
			})
			continue
		}
		result = append(result, EmbeddedChunk{Chunk: chunk, Embedding: vec})
	}

	s.logger.Info("Embedding generation complete", map[string]interface{}{
		"total_chunks": len(chunks),
		"unique":       len(uniqueHashes),
		"from_cache":   len(cached),
		"generated":    len(generated),
		"dropped":      dropped,
	})
	s.metrics.RecordCounter("rag_embeddings_generated_total", float64(len(generated)), nil)
	s.metrics.RecordCounter("rag_embeddings_cached_total", float64(len(cached)), nil)

	return result, nil
}

// EmbedQuery embeds a single query string
func (s *Service) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := s.client.EmbedBatch(ctx, []string{query}, TaskTypeQuery)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// deduplicate returns unique content hashes in first-seen order and the first
// chunk carrying each hash
func deduplicate(chunks []chunking.Chunk) ([]string, map[string]chunking.Chunk) {
	var order []string
	first := make(map[string]chunking.Chunk, len(chunks))
	for _, chunk := range chunks {
		if _, seen := first[chunk.ContentHash]; !seen {
			first[chunk.ContentHash] = chunk
			order = append(order, chunk.ContentHash)
		}
	}
	return order, first
}
