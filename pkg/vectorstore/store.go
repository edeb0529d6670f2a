// Package vectorstore implements the dense half of the dual-index writers.
// Each vector record carries a metadata mirror of its chunk so retrieval can
// score dense matches without a row fetch. The Postgres implementation keeps
// embeddings on the chunk rows (pgvector) and scopes every operation to a
// tenant.
package vectorstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/smartramana/ragmesh/pkg/embedding"
)

// Metadata mirrors the chunk fields needed at retrieval time.
type Metadata struct {
	ChunkID         string
	DocumentID      string
	ChunkIndex      int
	Content         string
	ContentHash     string
	TokenCount      int
	SectionTitle    string
	PageNumber      *int
	ParentSectionID string
}

// VectorRecord is one dense index entry. The ID is always
// "<documentID>#<chunkIndex>" so re-upserts under stage retries are
// idempotent.
type VectorRecord struct {
	ID       string
	Values   []float32
	Metadata Metadata
}

// VectorMatch is a dense query hit. Values carries the stored embedding so
// downstream diversification can reuse it without another fetch; it may be
// nil when the stored vector could not be decoded.
type VectorMatch struct {
	ID       string
	Score    float64
	Values   []float32
	Metadata Metadata
}

// Filter narrows a query to a single document when DocumentID is set.
type Filter struct {
	DocumentID string
}

// VectorStore is the dense index contract shared by ingestion and retrieval.
type VectorStore interface {
	// Upsert writes records into the tenant's slice of the index and
	// returns the number stored.
	Upsert(ctx context.Context, tenantID string, records []VectorRecord) (int, error)
	// Query returns the topK most similar records by cosine similarity.
	Query(ctx context.Context, tenantID string, vector []float32, topK int, filter Filter) ([]VectorMatch, error)
	// DeleteByDocument removes every record of one document. Idempotent.
	DeleteByDocument(ctx context.Context, tenantID, documentID string) error
}

// RecordID builds the canonical "<documentID>#<chunkIndex>" vector id.
func RecordID(documentID string, chunkIndex int) string {
	return fmt.Sprintf("%s#%d", documentID, chunkIndex)
}

// ParseRecordID splits a vector id back into document id and chunk index.
func ParseRecordID(id string) (string, int, error) {
	documentID, indexPart, ok := strings.Cut(id, "#")
	if !ok || documentID == "" {
		return "", 0, fmt.Errorf("malformed vector id %q", id)
	}
	index, err := strconv.Atoi(indexPart)
	if err != nil || index < 0 {
		return "", 0, fmt.Errorf("malformed vector id %q", id)
	}
	return documentID, index, nil
}

// RecordsFromChunks converts embedded chunks into vector records for upsert.
func RecordsFromChunks(chunks []embedding.EmbeddedChunk) []VectorRecord {
	records := make([]VectorRecord, 0, len(chunks))
	for _, ec := range chunks {
		records = append(records, VectorRecord{
			ID:     RecordID(ec.DocumentID, ec.ChunkIndex),
			Values: ec.Embedding,
			Metadata: Metadata{
				ChunkID:         ec.ID,
				DocumentID:      ec.DocumentID,
				ChunkIndex:      ec.ChunkIndex,
				Content:         ec.Content,
				ContentHash:     ec.ContentHash,
				TokenCount:      ec.TokenCount,
				SectionTitle:    ec.SectionTitle,
				PageNumber:      ec.PageNumber,
				ParentSectionID: ec.ParentSectionID,
			},
		})
	}
	return records
}
