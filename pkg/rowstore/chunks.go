// Package rowstore implements the row index half of the dual-index writers
// plus the document, interaction and feedback repositories. All operations
// are tenant-scoped; writers are idempotent so the ingestion worker can
// retry a stage without duplicating rows.
package rowstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/smartramana/ragmesh/pkg/chunking"
	"github.com/smartramana/ragmesh/pkg/database"
	"github.com/smartramana/ragmesh/pkg/observability"
)

const insertBatchSize = 100

// ChunkRow is the slim projection used to backfill merge results with
// row-store fields.
type ChunkRow struct {
	ID        string    `db:"id"`
	Content   string    `db:"content"`
	CreatedAt time.Time `db:"created_at"`
}

// ChunkRepository writes and reads chunk rows.
type ChunkRepository interface {
	// InsertBatch bulk-inserts chunks with ON CONFLICT DO NOTHING and
	// refreshes the weighted lexical search vector of the touched
	// documents. Returns the number of rows actually inserted.
	InsertBatch(ctx context.Context, chunks []chunking.Chunk) (int, error)
	// GetByIDs returns the slim rows for the given chunk ids.
	GetByIDs(ctx context.Context, ids []string) ([]ChunkRow, error)
	// DeleteByDocument removes all chunk rows of a document.
	DeleteByDocument(ctx context.Context, documentID string) (int64, error)
	// CountByDocument reports how many chunk rows a document has.
	CountByDocument(ctx context.Context, documentID string) (int, error)
}

type chunkRepository struct {
	db     *sqlx.DB
	logger observability.Logger
}

// NewChunkRepository creates the chunk repository
func NewChunkRepository(db *database.Database, logger observability.Logger) ChunkRepository {
	if logger == nil {
		logger = observability.NewLogger("rowstore")
	}
	return &chunkRepository{db: db.DB(), logger: logger}
}

// Titles count more than body text for lexical ranking.
const tsvectorUpdateSQL = `
	UPDATE chunks
	SET content_tsvector =
		setweight(to_tsvector('english', COALESCE(section_title, '')), 'A') ||
		setweight(to_tsvector('english', content), 'B')
	WHERE document_id = $1`

func (r *chunkRepository) InsertBatch(ctx context.Context, chunks []chunking.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin chunk insert transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	inserted := 0
	for batchStart := 0; batchStart < len(chunks); batchStart += insertBatchSize {
		batchEnd := batchStart + insertBatchSize
		if batchEnd > len(chunks) {
			batchEnd = len(chunks)
		}

		n, err := insertChunkBatch(ctx, tx, chunks[batchStart:batchEnd])
		if err != nil {
			return inserted, database.TranslateError(err)
		}
		inserted += n
	}

	for _, documentID := range distinctDocumentIDs(chunks) {
		if _, err := tx.ExecContext(ctx, tsvectorUpdateSQL, documentID); err != nil {
			return inserted, fmt.Errorf("failed to update lexical vectors: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return inserted, fmt.Errorf("failed to commit chunk insert: %w", err)
	}

	r.logger.Info("Chunk rows stored", map[string]interface{}{
		"chunks":   len(chunks),
		"inserted": inserted,
	})
	return inserted, nil
}

func insertChunkBatch(ctx context.Context, tx *sqlx.Tx, batch []chunking.Chunk) (int, error) {
	placeholders := make([]string, 0, len(batch))
	args := make([]interface{}, 0, len(batch)*10)

	for i, chunk := range batch {
		base := i * 10
		placeholders = append(placeholders, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10))

		var sectionTitle interface{}
		if chunk.SectionTitle != "" {
			sectionTitle = chunk.SectionTitle
		}
		var pageNumber interface{}
		if chunk.PageNumber != nil {
			pageNumber = *chunk.PageNumber
		}

		args = append(args,
			chunk.ID, chunk.DocumentID, chunk.TenantID, chunk.ChunkIndex,
			chunk.Content, chunk.ContentHash, chunk.TokenCount,
			sectionTitle, pageNumber, chunk.ParentSectionID,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO chunks (
			id, document_id, tenant_id, chunk_index, content, content_hash,
			token_count, section_title, page_number, parent_section_id
		) VALUES %s
		ON CONFLICT (document_id, chunk_index) DO NOTHING`,
		strings.Join(placeholders, ", "))

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert chunk batch: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(affected), nil
}

func distinctDocumentIDs(chunks []chunking.Chunk) []string {
	seen := make(map[string]struct{}, 1)
	var ids []string
	for _, chunk := range chunks {
		if _, ok := seen[chunk.DocumentID]; ok {
			continue
		}
		seen[chunk.DocumentID] = struct{}{}
		ids = append(ids, chunk.DocumentID)
	}
	return ids
}

func (r *chunkRepository) GetByIDs(ctx context.Context, ids []string) ([]ChunkRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var rows []ChunkRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, content, created_at
		FROM chunks
		WHERE id = ANY($1::uuid[])`, pq.Array(ids))
	if err != nil {
		return nil, database.TranslateError(err)
	}
	return rows, nil
}

func (r *chunkRepository) DeleteByDocument(ctx context.Context, documentID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return 0, database.TranslateError(err)
	}

	deleted, _ := result.RowsAffected()
	r.logger.Info("Chunk rows deleted", map[string]interface{}{
		"document_id": documentID,
		"deleted":     deleted,
	})
	return deleted, nil
}

func (r *chunkRepository) CountByDocument(ctx context.Context, documentID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT count(*) FROM chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return 0, database.TranslateError(err)
	}
	return count, nil
}
