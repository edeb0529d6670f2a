// Package embedding generates and caches embedding vectors. Chunks are
// deduplicated by content hash before generation so identical text across
// documents is embedded once and shared through the Redis cache.
package embedding

import (
	"context"

	"github.com/smartramana/ragmesh/pkg/chunking"
)

// TaskType tells the model what the embedding will be used for. Document and
// query embeddings live in the same space but are optimized differently.
type TaskType string

const (
	TaskTypeDocument TaskType = "RETRIEVAL_DOCUMENT"
	TaskTypeQuery    TaskType = "RETRIEVAL_QUERY"
)

// Client generates embedding vectors
type Client interface {
	// EmbedBatch embeds texts in order. The result has one vector per input.
	EmbedBatch(ctx context.Context, texts []string, taskType TaskType) ([][]float32, error)
	// Dimension returns the vector dimension this client produces
	Dimension() int
}

// Cache stores embeddings keyed by content hash
type Cache interface {
	// Get returns the cached embedding or nil on miss. Backend failures
	// surface as misses.
	Get(ctx context.Context, contentHash string) []float32
	// GetBatch looks up many hashes; absent keys are missing from the result
	GetBatch(ctx context.Context, contentHashes []string) map[string][]float32
	// Set stores an embedding. Failures are logged, never returned.
	Set(ctx context.Context, contentHash string, embedding []float32)
	// SetBatch stores many embeddings and reports how many stuck
	SetBatch(ctx context.Context, embeddings map[string][]float32) int
}

// EmbeddedChunk pairs a chunk with its embedding vector
type EmbeddedChunk struct {
	chunking.Chunk
	Embedding []float32
}
