// Package retrieval implements the hybrid dense+lexical retrieval pipeline.
package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/smartramana/ragmesh/pkg/database"
	ragerrors "github.com/smartramana/ragmesh/pkg/errors"
)

// SearchResult is one retrieved chunk with its per-family and combined scores.
// The dense arm fills Embedding; lexical-only hits carry none.
type SearchResult struct {
	ChunkID      string     `json:"chunk_id" db:"id"`
	DocumentID   string     `json:"document_id" db:"document_id"`
	Content      string     `json:"content" db:"content"`
	ChunkIndex   int        `json:"chunk_index" db:"chunk_index"`
	SectionTitle string     `json:"section_title,omitempty" db:"section_title"`
	PageNumber   *int       `json:"page_number,omitempty" db:"page_number"`
	Score        float64    `json:"score" db:"-"`
	DenseScore   float64    `json:"dense_score" db:"-"`
	LexicalScore float64    `json:"lexical_score" db:"lexical_score"`
	RecencyScore float64    `json:"recency_score" db:"-"`
	Embedding    []float32  `json:"-" db:"-"`
	CreatedAt    *time.Time `json:"-" db:"-"`
}

// BM25Search is the lexical arm: PostgreSQL full-text search over the
// weighted content_tsvector with cover-density ranking.
type BM25Search struct {
	db *sqlx.DB
}

// NewBM25Search creates a new BM25 search instance
func NewBM25Search(db *database.Database) *BM25Search {
	return &BM25Search{db: db.DB()}
}

// Search runs a tenant-scoped full-text search. ts_rank_cd's normalization
// flag 1 divides the rank by document length, which keeps long chunks from
// dominating.
func (b *BM25Search) Search(ctx context.Context, tenantID, query string, topK int, documentID string) ([]SearchResult, error) {
	if query == "" {
		return nil, ragerrors.New("BM25_EMPTY_QUERY", "query cannot be empty", ragerrors.ClassValidation)
	}
	if topK <= 0 {
		topK = 20
	}

	sql := `
		SELECT
			c.id,
			c.document_id,
			c.content,
			c.chunk_index,
			COALESCE(c.section_title, '') AS section_title,
			c.page_number,
			ts_rank_cd(c.content_tsvector, plainto_tsquery('english', $1), 1) AS lexical_score
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.tenant_id = $2
			AND d.is_active = TRUE
			AND c.content_tsvector @@ plainto_tsquery('english', $1)`

	args := []interface{}{query, tenantID}
	if documentID != "" {
		sql += fmt.Sprintf(" AND c.document_id = $%d", len(args)+1)
		args = append(args, documentID)
	}
	sql += fmt.Sprintf(" ORDER BY lexical_score DESC LIMIT $%d", len(args)+1)
	args = append(args, topK)

	var results []SearchResult
	if err := b.db.SelectContext(ctx, &results, sql, args...); err != nil {
		return nil, ragerrors.Wrap(err, "BM25_SEARCH", "full-text search failed", ragerrors.ClassTransient)
	}
	return results, nil
}
