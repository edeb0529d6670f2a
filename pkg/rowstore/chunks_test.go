package rowstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartramana/ragmesh/pkg/chunking"
	"github.com/smartramana/ragmesh/pkg/database"
	"github.com/smartramana/ragmesh/pkg/observability"
)

func newMockDB(t *testing.T) (*database.Database, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = mockDB.Close()
	})

	return database.NewWithDB(sqlx.NewDb(mockDB, "sqlmock")), mock
}

func testChunk(documentID string, index int) chunking.Chunk {
	content := fmt.Sprintf("chunk %d body", index)
	return chunking.Chunk{
		ID:          fmt.Sprintf("00000000-0000-0000-0000-%012d", index),
		DocumentID:  documentID,
		TenantID:    "tenant-a",
		ChunkIndex:  index,
		Content:     content,
		ContentHash: chunking.ContentHash(content),
		TokenCount:  3,
	}
}

func TestChunkRepository_InsertBatch(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewChunkRepository(db, observability.NewNoopLogger())

	page := 4
	chunk := chunking.Chunk{
		ID:              "00000000-0000-0000-0000-000000000001",
		DocumentID:      "doc-1",
		TenantID:        "tenant-a",
		ChunkIndex:      0,
		Content:         "Reactor maintenance schedule.",
		ContentHash:     chunking.ContentHash("Reactor maintenance schedule."),
		TokenCount:      4,
		SectionTitle:    "Maintenance",
		PageNumber:      &page,
		ParentSectionID: "sec-1",
	}

	mock.ExpectBegin()
	mock.ExpectExec(`(?s)INSERT INTO chunks.+ON CONFLICT \(document_id, chunk_index\) DO NOTHING`).
		WithArgs(chunk.ID, "doc-1", "tenant-a", 0, chunk.Content, chunk.ContentHash, 4,
			"Maintenance", 4, "sec-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)UPDATE chunks.+SET content_tsvector`).
		WithArgs("doc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	inserted, err := repo.InsertBatch(context.Background(), []chunking.Chunk{chunk})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChunkRepository_InsertBatchNullableFields(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewChunkRepository(db, observability.NewNoopLogger())

	chunk := testChunk("doc-1", 0)

	mock.ExpectBegin()
	mock.ExpectExec(`(?s)INSERT INTO chunks`).
		WithArgs(chunk.ID, "doc-1", "tenant-a", 0, chunk.Content, chunk.ContentHash, 3,
			nil, nil, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)UPDATE chunks.+SET content_tsvector`).
		WithArgs("doc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := repo.InsertBatch(context.Background(), []chunking.Chunk{chunk})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChunkRepository_InsertBatchSkipsDuplicates(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewChunkRepository(db, observability.NewNoopLogger())

	chunks := []chunking.Chunk{testChunk("doc-1", 0), testChunk("doc-1", 1)}

	mock.ExpectBegin()
	// One of the two rows already exists, so only one insert lands.
	mock.ExpectExec(`(?s)INSERT INTO chunks`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)UPDATE chunks.+SET content_tsvector`).
		WithArgs("doc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	inserted, err := repo.InsertBatch(context.Background(), chunks)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChunkRepository_InsertBatchSplitsLargeSets(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewChunkRepository(db, observability.NewNoopLogger())

	chunks := make([]chunking.Chunk, 0, 150)
	for i := 0; i < 150; i++ {
		chunks = append(chunks, testChunk("doc-1", i))
	}

	mock.ExpectBegin()
	mock.ExpectExec(`(?s)INSERT INTO chunks`).WillReturnResult(sqlmock.NewResult(0, 100))
	mock.ExpectExec(`(?s)INSERT INTO chunks`).WillReturnResult(sqlmock.NewResult(0, 50))
	mock.ExpectExec(`(?s)UPDATE chunks.+SET content_tsvector`).
		WithArgs("doc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	inserted, err := repo.InsertBatch(context.Background(), chunks)
	require.NoError(t, err)
	assert.Equal(t, 150, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChunkRepository_InsertBatchEmpty(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewChunkRepository(db, observability.NewNoopLogger())

	inserted, err := repo.InsertBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChunkRepository_GetByIDs(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewChunkRepository(db, observability.NewNoopLogger())

	ids := []string{"00000000-0000-0000-0000-000000000001", "00000000-0000-0000-0000-000000000002"}
	createdAt := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`(?s)SELECT id, content, created_at.+FROM chunks.+ANY\(\$1::uuid\[\]\)`).
		WithArgs(pq.Array(ids)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "content", "created_at"}).
			AddRow(ids[0], "first chunk", createdAt).
			AddRow(ids[1], "second chunk", createdAt))

	rows, err := repo.GetByIDs(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ids[0], rows[0].ID)
	assert.Equal(t, "first chunk", rows[0].Content)
	assert.Equal(t, createdAt, rows[0].CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChunkRepository_GetByIDsEmpty(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewChunkRepository(db, observability.NewNoopLogger())

	rows, err := repo.GetByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChunkRepository_DeleteByDocument(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewChunkRepository(db, observability.NewNoopLogger())

	mock.ExpectExec(`DELETE FROM chunks WHERE document_id`).
		WithArgs("doc-1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	deleted, err := repo.DeleteByDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChunkRepository_CountByDocument(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewChunkRepository(db, observability.NewNoopLogger())

	mock.ExpectQuery(`SELECT count\(\*\) FROM chunks WHERE document_id`).
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	count, err := repo.CountByDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
