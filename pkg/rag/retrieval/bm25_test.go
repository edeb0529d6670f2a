package retrieval

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartramana/ragmesh/pkg/database"
	ragerrors "github.com/smartramana/ragmesh/pkg/errors"
)

func newMockDB(t *testing.T) (*database.Database, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	return database.NewWithDB(sqlx.NewDb(mockDB, "sqlmock")), mock
}

func bm25Columns() []string {
	return []string{"id", "document_id", "content", "chunk_index", "section_title", "page_number", "lexical_score"}
}

func TestBM25Search(t *testing.T) {
	db, mock := newMockDB(t)
	search := NewBM25Search(db)

	page := 7
	mock.ExpectQuery(`(?s)SELECT.+ts_rank_cd\(c\.content_tsvector, plainto_tsquery\('english', \$1\), 1\) AS lexical_score.+FROM chunks c.+JOIN documents d ON d\.id = c\.document_id.+c\.tenant_id = \$2.+d\.is_active = TRUE.+ORDER BY lexical_score DESC LIMIT \$3`).
		WithArgs("reactor coolant", "tenant-a", 10).
		WillReturnRows(sqlmock.NewRows(bm25Columns()).
			AddRow("chunk-1", "doc-1", "coolant loop pressure", 3, "Cooling", page, 0.42).
			AddRow("chunk-2", "doc-2", "reactor overview", 0, "", nil, 0.17))

	results, err := search.Search(context.Background(), "tenant-a", "reactor coolant", 10, "")

	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "chunk-1", results[0].ChunkID)
	assert.Equal(t, "doc-1", results[0].DocumentID)
	assert.Equal(t, "coolant loop pressure", results[0].Content)
	assert.Equal(t, 3, results[0].ChunkIndex)
	assert.Equal(t, "Cooling", results[0].SectionTitle)
	require.NotNil(t, results[0].PageNumber)
	assert.Equal(t, 7, *results[0].PageNumber)
	assert.InDelta(t, 0.42, results[0].LexicalScore, 0.0001)

	assert.Nil(t, results[1].PageNumber)
	assert.Zero(t, results[1].Score)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBM25SearchDocumentFilter(t *testing.T) {
	db, mock := newMockDB(t)
	search := NewBM25Search(db)

	mock.ExpectQuery(`(?s)SELECT.+AND c\.document_id = \$3.+ORDER BY lexical_score DESC LIMIT \$4`).
		WithArgs("coolant", "tenant-a", "doc-1", 5).
		WillReturnRows(sqlmock.NewRows(bm25Columns()))

	results, err := search.Search(context.Background(), "tenant-a", "coolant", 5, "doc-1")

	require.NoError(t, err)
	assert.Empty(t, results)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBM25SearchDefaultTopK(t *testing.T) {
	db, mock := newMockDB(t)
	search := NewBM25Search(db)

	mock.ExpectQuery(`(?s)SELECT.+LIMIT \$3`).
		WithArgs("coolant", "tenant-a", 20).
		WillReturnRows(sqlmock.NewRows(bm25Columns()))

	_, err := search.Search(context.Background(), "tenant-a", "coolant", 0, "")

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBM25SearchEmptyQuery(t *testing.T) {
	db, _ := newMockDB(t)
	search := NewBM25Search(db)

	_, err := search.Search(context.Background(), "tenant-a", "", 10, "")

	require.Error(t, err)
	assert.True(t, ragerrors.IsValidation(err))
}

func TestBM25SearchQueryError(t *testing.T) {
	db, mock := newMockDB(t)
	search := NewBM25Search(db)

	mock.ExpectQuery(`(?s)SELECT.+FROM chunks c`).
		WillReturnError(assert.AnError)

	_, err := search.Search(context.Background(), "tenant-a", "coolant", 10, "")

	require.Error(t, err)
	assert.True(t, ragerrors.IsTransient(err))
}
