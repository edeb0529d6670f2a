// Package chunking turns parsed document sections into retrieval-sized chunks.
// Small sections merge, large sections split at sentence boundaries with token
// overlap, and every chunk carries a content hash so the embedding cache can
// deduplicate identical text across documents.
package chunking

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Section is one parsed unit of a document, usually a heading plus its body
type Section struct {
	Title      string
	Content    string
	PageNumber *int
}

// Chunk is an indexable piece of a document. The chunker fills the content
// derived fields; the ingestion processor assigns document and tenant identity
// before the chunk is embedded and stored.
type Chunk struct {
	ID              string
	DocumentID      string
	TenantID        string
	ChunkIndex      int
	Content         string
	ContentHash     string
	TokenCount      int
	SectionTitle    string
	PageNumber      *int
	ParentSectionID string
}

// ContentHash returns the hex SHA-256 of the trimmed content. Identical text
// in different documents hashes identically on purpose.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(content)))
	return hex.EncodeToString(sum[:])
}
