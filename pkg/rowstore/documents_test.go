package rowstore

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartramana/ragmesh/pkg/database"
	"github.com/smartramana/ragmesh/pkg/models"
	"github.com/smartramana/ragmesh/pkg/observability"
)

func TestDocumentRepository_Insert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db, observability.NewNoopLogger())

	doc := &models.Document{
		ID:               uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		TenantID:         "tenant-a",
		Filename:         "report.pdf",
		StoragePath:      "/data/tenant-a/doc/report.pdf",
		DocumentType:     models.DocumentTypePDF,
		IsActive:         true,
		ProcessingStatus: "UPLOADED",
	}

	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`(?s)INSERT INTO documents.+RETURNING created_at, updated_at`).
		WithArgs(doc.ID, "tenant-a", "report.pdf", doc.StoragePath, "pdf", 1, true, "UPLOADED").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	err := repo.Insert(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Version)
	assert.Equal(t, now, doc.CreatedAt)
	assert.Equal(t, now, doc.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepository_InsertAssignsID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db, observability.NewNoopLogger())

	doc := &models.Document{
		TenantID:         "tenant-a",
		Filename:         "report.pdf",
		StoragePath:      "/data/tenant-a/doc/report.pdf",
		DocumentType:     models.DocumentTypePDF,
		IsActive:         true,
		ProcessingStatus: "UPLOADED",
	}

	now := time.Now().UTC()
	mock.ExpectQuery(`(?s)INSERT INTO documents`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	err := repo.Insert(context.Background(), doc)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, doc.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepository_GetForTenant(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db, observability.NewNoopLogger())

	id := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`(?s)SELECT.+FROM documents WHERE id = \$1 AND tenant_id = \$2`).
		WithArgs(id, "tenant-a").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "filename", "storage_path", "document_type", "version",
			"is_active", "processing_status", "error_message", "created_at", "updated_at",
		}).AddRow(id, "tenant-a", "report.pdf", "/data/x", "pdf", 2, true, "COMPLETED", nil, now, now))

	doc, err := repo.GetForTenant(context.Background(), "tenant-a", id)
	require.NoError(t, err)
	assert.Equal(t, id, doc.ID)
	assert.Equal(t, models.DocumentTypePDF, doc.DocumentType)
	assert.Equal(t, 2, doc.Version)
	assert.Equal(t, "COMPLETED", doc.ProcessingStatus)
	assert.Nil(t, doc.ErrorMessage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepository_GetForTenantNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db, observability.NewNoopLogger())

	id := uuid.New()
	mock.ExpectQuery(`(?s)SELECT.+FROM documents`).
		WithArgs(id, "tenant-b").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetForTenant(context.Background(), "tenant-b", id)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestDocumentRepository_ListByTenantDefaultsLimit(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db, observability.NewNoopLogger())

	mock.ExpectQuery(`(?s)SELECT.+FROM documents.+ORDER BY created_at DESC.+LIMIT \$2 OFFSET \$3`).
		WithArgs("tenant-a", 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "filename", "storage_path", "document_type", "version",
			"is_active", "processing_status", "error_message", "created_at", "updated_at",
		}))

	docs, err := repo.ListByTenant(context.Background(), "tenant-a", 0, -5)
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepository_UpdateStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db, observability.NewNoopLogger())

	id := uuid.New()
	mock.ExpectExec(`(?s)UPDATE documents.+SET processing_status = \$2`).
		WithArgs(id, "PROCESSING", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateStatus(context.Background(), id, "PROCESSING", "")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepository_UpdateStatusWithError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db, observability.NewNoopLogger())

	id := uuid.New()
	mock.ExpectExec(`(?s)UPDATE documents.+SET processing_status = \$2`).
		WithArgs(id, "FAILED", "parser crashed").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateStatus(context.Background(), id, "FAILED", "parser crashed")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepository_UpdateStatusMissingRow(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db, observability.NewNoopLogger())

	mock.ExpectExec(`(?s)UPDATE documents`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), uuid.New(), "PROCESSING", "")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestDocumentRepository_NextVersion(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db, observability.NewNoopLogger())

	mock.ExpectQuery(`(?s)SELECT COALESCE\(MAX\(version\), 0\) \+ 1`).
		WithArgs("tenant-a", "report.pdf").
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(3))

	next, err := repo.NextVersion(context.Background(), "tenant-a", "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, 3, next)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepository_DeactivatePriorVersions(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db, observability.NewNoopLogger())

	keep := uuid.New()
	mock.ExpectExec(`(?s)UPDATE documents.+SET is_active = FALSE`).
		WithArgs("tenant-a", "report.pdf", keep).
		WillReturnResult(sqlmock.NewResult(0, 2))

	retired, err := repo.DeactivatePriorVersions(context.Background(), "tenant-a", "report.pdf", keep)
	require.NoError(t, err)
	assert.Equal(t, int64(2), retired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepository_Delete(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db, observability.NewNoopLogger())

	id := uuid.New()
	mock.ExpectExec(`DELETE FROM documents WHERE id = \$1 AND tenant_id = \$2`).
		WithArgs(id, "tenant-a").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Delete(context.Background(), "tenant-a", id)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepository_DeleteWrongTenant(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db, observability.NewNoopLogger())

	mock.ExpectExec(`DELETE FROM documents`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "tenant-b", uuid.New())
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestDocumentRepository_FilenamesByIDs(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db, observability.NewNoopLogger())

	first := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	second := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	mock.ExpectQuery(`(?s)SELECT id, filename.+FROM documents.+WHERE id = ANY\(\$1\)`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "filename"}).
			AddRow(first, "raft.pdf").
			AddRow(second, "paxos.pdf"))

	filenames, err := repo.FilenamesByIDs(context.Background(), []uuid.UUID{first, second})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		first.String():  "raft.pdf",
		second.String(): "paxos.pdf",
	}, filenames)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepository_FilenamesByIDsEmpty(t *testing.T) {
	db, _ := newMockDB(t)
	repo := NewDocumentRepository(db, observability.NewNoopLogger())

	filenames, err := repo.FilenamesByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, filenames)
}
