package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/smartramana/ragmesh/pkg/database"
	ragerrors "github.com/smartramana/ragmesh/pkg/errors"
	"github.com/smartramana/ragmesh/pkg/observability"
)

const upsertBatchSize = 100

// PgVectorStore keeps embeddings on the chunk rows. The row writer inserts
// the rows first; Upsert attaches vectors to them, so the index-stage retry
// can replay both writers without duplicating anything.
type PgVectorStore struct {
	db      *sqlx.DB
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewPgVectorStore creates a pgvector-backed dense index over the given
// database.
func NewPgVectorStore(db *database.Database, logger observability.Logger, metrics observability.MetricsClient) *PgVectorStore {
	if logger == nil {
		logger = observability.NewLogger("vectorstore")
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}
	return &PgVectorStore{
		db:      db.DB(),
		logger:  logger,
		metrics: metrics,
	}
}

// Upsert writes embeddings onto their chunk rows in batches of 100. Every
// record must match an existing row; a shortfall fails the call so the
// ingest stage retries after the row writer has caught up.
func (s *PgVectorStore) Upsert(ctx context.Context, tenantID string, records []VectorRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	start := time.Now()
	updated := 0

	for batchStart := 0; batchStart < len(records); batchStart += upsertBatchSize {
		batchEnd := batchStart + upsertBatchSize
		if batchEnd > len(records) {
			batchEnd = len(records)
		}

		n, err := s.upsertBatch(ctx, tenantID, records[batchStart:batchEnd])
		updated += n
		if err != nil {
			s.metrics.RecordDatabaseOperation("vector_upsert", false, time.Since(start).Seconds())
			return updated, err
		}
	}

	s.metrics.RecordDatabaseOperation("vector_upsert", true, time.Since(start).Seconds())

	if updated < len(records) {
		return updated, ragerrors.Newf("VECTOR_ROWS_MISSING", ragerrors.ClassTransient,
			"vector upsert matched %d of %d chunk rows", updated, len(records))
	}

	s.logger.Info("Vector upsert complete", map[string]interface{}{
		"tenant_id": tenantID,
		"records":   len(records),
		"updated":   updated,
	})
	return updated, nil
}

func (s *PgVectorStore) upsertBatch(ctx context.Context, tenantID string, batch []VectorRecord) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, ragerrors.Wrap(err, "VECTOR_TX_BEGIN", "failed to begin vector upsert transaction", ragerrors.ClassTransient)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE chunks
		SET embedding = $1::vector
		WHERE tenant_id = $2 AND document_id = $3 AND chunk_index = $4`)
	if err != nil {
		return 0, ragerrors.Wrap(err, "VECTOR_PREPARE", "failed to prepare vector upsert", ragerrors.ClassTransient)
	}
	defer func() {
		_ = stmt.Close()
	}()

	updated := 0
	for _, record := range batch {
		documentID, chunkIndex, err := ParseRecordID(record.ID)
		if err != nil {
			return updated, ragerrors.Wrap(err, "VECTOR_BAD_ID", "vector record id is malformed", ragerrors.ClassValidation)
		}

		result, err := stmt.ExecContext(ctx, formatVectorForPg(record.Values), tenantID, documentID, chunkIndex)
		if err != nil {
			return updated, ragerrors.Wrap(err, "VECTOR_UPSERT",
				fmt.Sprintf("failed to upsert vector %s", record.ID), ragerrors.ClassTransient)
		}

		if affected, err := result.RowsAffected(); err == nil && affected > 0 {
			updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, ragerrors.Wrap(err, "VECTOR_TX_COMMIT", "failed to commit vector upsert", ragerrors.ClassTransient)
	}
	return updated, nil
}

// Query returns the topK most similar chunks for the tenant by cosine
// similarity, restricted to active documents. Matches include the stored
// embedding so callers can diversify without a second fetch.
func (s *PgVectorStore) Query(ctx context.Context, tenantID string, vector []float32, topK int, filter Filter) ([]VectorMatch, error) {
	if len(vector) == 0 {
		return nil, ragerrors.New("VECTOR_EMPTY_QUERY", "query vector is empty", ragerrors.ClassValidation)
	}
	if topK <= 0 {
		topK = 10
	}

	args := []interface{}{formatVectorForPg(vector), tenantID}
	conditions := []string{
		"c.tenant_id = $2",
		"d.is_active = TRUE",
		"c.embedding IS NOT NULL",
	}
	if filter.DocumentID != "" {
		args = append(args, filter.DocumentID)
		conditions = append(conditions, fmt.Sprintf("c.document_id = $%d", len(args)))
	}
	args = append(args, topK)

	query := fmt.Sprintf(`
		SELECT
			c.id, c.document_id, c.chunk_index, c.content, c.content_hash,
			c.token_count, c.section_title, c.page_number, c.parent_section_id,
			c.embedding::text AS embedding,
			(1 - (c.embedding <=> $1::vector))::float8 AS similarity
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE %s
		ORDER BY similarity DESC
		LIMIT $%d`, strings.Join(conditions, " AND "), len(args))

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.metrics.RecordDatabaseOperation("vector_query", false, time.Since(start).Seconds())
		return nil, ragerrors.Wrap(err, "VECTOR_QUERY", "dense similarity query failed", ragerrors.ClassTransient)
	}
	defer func() {
		_ = rows.Close()
	}()

	var matches []VectorMatch
	for rows.Next() {
		var (
			chunkID         string
			documentID      string
			chunkIndex      int
			content         string
			contentHash     string
			tokenCount      int
			sectionTitle    sql.NullString
			pageNumber      sql.NullInt64
			parentSectionID sql.NullString
			embeddingStr    string
			similarity      float64
		)
		if err := rows.Scan(
			&chunkID, &documentID, &chunkIndex, &content, &contentHash,
			&tokenCount, &sectionTitle, &pageNumber, &parentSectionID,
			&embeddingStr, &similarity,
		); err != nil {
			s.metrics.RecordDatabaseOperation("vector_query", false, time.Since(start).Seconds())
			return nil, ragerrors.Wrap(err, "VECTOR_SCAN", "failed to scan dense match", ragerrors.ClassTransient)
		}

		values, err := parseVectorFromPg(embeddingStr)
		if err != nil {
			s.logger.Warn("Stored embedding is unparseable, match kept without values", map[string]interface{}{
				"chunk_id": chunkID,
				"error":    err.Error(),
			})
			values = nil
		}

		metadata := Metadata{
			ChunkID:     chunkID,
			DocumentID:  documentID,
			ChunkIndex:  chunkIndex,
			Content:     content,
			ContentHash: contentHash,
			TokenCount:  tokenCount,
		}
		if sectionTitle.Valid {
			metadata.SectionTitle = sectionTitle.String
		}
		if pageNumber.Valid {
			n := int(pageNumber.Int64)
			metadata.PageNumber = &n
		}
		if parentSectionID.Valid {
			metadata.ParentSectionID = parentSectionID.String
		}

		matches = append(matches, VectorMatch{
			ID:       RecordID(documentID, chunkIndex),
			Score:    similarity,
			Values:   values,
			Metadata: metadata,
		})
	}
	if err := rows.Err(); err != nil {
		s.metrics.RecordDatabaseOperation("vector_query", false, time.Since(start).Seconds())
		return nil, ragerrors.Wrap(err, "VECTOR_QUERY", "dense similarity query failed", ragerrors.ClassTransient)
	}

	s.metrics.RecordDatabaseOperation("vector_query", true, time.Since(start).Seconds())
	s.logger.Debug("Dense query complete", map[string]interface{}{
		"tenant_id": tenantID,
		"top_k":     topK,
		"matches":   len(matches),
	})
	return matches, nil
}

// DeleteByDocument clears the embeddings of one document, removing it from
// the similarity index while the rows await their own deletion.
func (s *PgVectorStore) DeleteByDocument(ctx context.Context, tenantID, documentID string) error {
	start := time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE chunks
		SET embedding = NULL
		WHERE tenant_id = $1 AND document_id = $2`, tenantID, documentID)
	if err != nil {
		s.metrics.RecordDatabaseOperation("vector_delete", false, time.Since(start).Seconds())
		return ragerrors.Wrap(err, "VECTOR_DELETE", "failed to delete document vectors", ragerrors.ClassTransient)
	}
	s.metrics.RecordDatabaseOperation("vector_delete", true, time.Since(start).Seconds())

	affected, _ := result.RowsAffected()
	s.logger.Info("Document vectors deleted", map[string]interface{}{
		"tenant_id":   tenantID,
		"document_id": documentID,
		"vectors":     affected,
	})
	return nil
}

// formatVectorForPg renders a vector in pgvector's text input format.
func formatVectorForPg(vector []float32) string {
	elements := make([]string, len(vector))
	for i, v := range vector {
		elements[i] = fmt.Sprintf("%f", v)
	}
	return "[" + strings.Join(elements, ",") + "]"
}

// parseVectorFromPg parses pgvector's text output format.
func parseVectorFromPg(vectorStr string) ([]float32, error) {
	vectorStr = strings.Trim(strings.TrimSpace(vectorStr), "[]")
	if vectorStr == "" {
		return nil, fmt.Errorf("empty vector literal")
	}

	elements := strings.Split(vectorStr, ",")
	vector := make([]float32, len(elements))
	for i, element := range elements {
		var value float64
		if _, err := fmt.Sscanf(strings.TrimSpace(element), "%f", &value); err != nil {
			return nil, fmt.Errorf("failed to parse vector element %d: %w", i, err)
		}
		vector[i] = float32(value)
	}
	return vector, nil
}
