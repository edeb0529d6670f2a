package rowstore

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/smartramana/ragmesh/pkg/database"
	"github.com/smartramana/ragmesh/pkg/models"
	"github.com/smartramana/ragmesh/pkg/observability"
)

// DocumentRepository persists document rows and their version lifecycle.
type DocumentRepository interface {
	Insert(ctx context.Context, doc *models.Document) error
	// GetByID loads a document regardless of tenant; the ingestion worker
	// only knows the id it dequeued.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error)
	// GetForTenant loads a document scoped to its owner.
	GetForTenant(ctx context.Context, tenantID string, id uuid.UUID) (*models.Document, error)
	ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]models.Document, error)
	// UpdateStatus moves the FSM forward. An empty errorMessage clears the
	// stored one.
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, errorMessage string) error
	// NextVersion returns max(version)+1 across all uploads of the same
	// tenant+filename pair.
	NextVersion(ctx context.Context, tenantID, filename string) (int, error)
	// DeactivatePriorVersions retires every other version of the file.
	DeactivatePriorVersions(ctx context.Context, tenantID, filename string, keep uuid.UUID) (int64, error)
	Delete(ctx context.Context, tenantID string, id uuid.UUID) error
	// FilenamesByIDs resolves document ids to filenames in one round trip,
	// for source labeling in prompts. Unknown ids are simply absent.
	FilenamesByIDs(ctx context.Context, ids []uuid.UUID) (map[string]string, error)
}

type documentRepository struct {
	db     *sqlx.DB
	logger observability.Logger
}

// NewDocumentRepository creates the document repository
func NewDocumentRepository(db *database.Database, logger observability.Logger) DocumentRepository {
	if logger == nil {
		logger = observability.NewLogger("rowstore")
	}
	return &documentRepository{db: db.DB(), logger: logger}
}

const documentColumns = `
	id, tenant_id, filename, storage_path, document_type, version,
	is_active, processing_status, error_message, created_at, updated_at`

func (r *documentRepository) Insert(ctx context.Context, doc *models.Document) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.Version == 0 {
		doc.Version = 1
	}

	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO documents (
			id, tenant_id, filename, storage_path, document_type,
			version, is_active, processing_status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		doc.ID, doc.TenantID, doc.Filename, doc.StoragePath, doc.DocumentType,
		doc.Version, doc.IsActive, doc.ProcessingStatus,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return database.TranslateError(err)
	}

	r.logger.Info("Document row created", map[string]interface{}{
		"document_id": doc.ID.String(),
		"tenant_id":   doc.TenantID,
		"filename":    doc.Filename,
		"version":     doc.Version,
	})
	return nil
}

func (r *documentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	var doc models.Document
	err := r.db.GetContext(ctx, &doc,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	if err != nil {
		return nil, database.TranslateError(err)
	}
	return &doc, nil
}

func (r *documentRepository) GetForTenant(ctx context.Context, tenantID string, id uuid.UUID) (*models.Document, error) {
	var doc models.Document
	err := r.db.GetContext(ctx, &doc,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return nil, database.TranslateError(err)
	}
	return &doc, nil
}

func (r *documentRepository) ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var docs []models.Document
	err := r.db.SelectContext(ctx, &docs, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, tenantID, limit, offset)
	if err != nil {
		return nil, database.TranslateError(err)
	}
	return docs, nil
}

func (r *documentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string, errorMessage string) error {
	var message sql.NullString
	if errorMessage != "" {
		message = sql.NullString{String: errorMessage, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE documents
		SET processing_status = $2, error_message = $3, updated_at = now()
		WHERE id = $1`, id, status, message)
	if err != nil {
		return database.TranslateError(err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return database.ErrNotFound
	}

	r.logger.Debug("Document status updated", map[string]interface{}{
		"document_id": id.String(),
		"status":      status,
	})
	return nil
}

func (r *documentRepository) NextVersion(ctx context.Context, tenantID, filename string) (int, error) {
	var next int
	err := r.db.GetContext(ctx, &next, `
		SELECT COALESCE(MAX(version), 0) + 1
		FROM documents
		WHERE tenant_id = $1 AND filename = $2`, tenantID, filename)
	if err != nil {
		return 0, database.TranslateError(err)
	}
	return next, nil
}

func (r *documentRepository) DeactivatePriorVersions(ctx context.Context, tenantID, filename string, keep uuid.UUID) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE documents
		SET is_active = FALSE, updated_at = now()
		WHERE tenant_id = $1 AND filename = $2 AND id <> $3 AND is_active`,
		tenantID, filename, keep)
	if err != nil {
		return 0, database.TranslateError(err)
	}

	retired, _ := result.RowsAffected()
	if retired > 0 {
		r.logger.Info("Prior document versions retired", map[string]interface{}{
			"tenant_id": tenantID,
			"filename":  filename,
			"retired":   retired,
		})
	}
	return retired, nil
}

func (r *documentRepository) FilenamesByIDs(ctx context.Context, ids []uuid.UUID) (map[string]string, error) {
	filenames := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return filenames, nil
	}

	rows, err := r.db.QueryxContext(ctx, `
		SELECT id, filename
		FROM documents
		WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, database.TranslateError(err)
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var id uuid.UUID
		var filename string
		if err := rows.Scan(&id, &filename); err != nil {
			return nil, database.TranslateError(err)
		}
		filenames[id.String()] = filename
	}
	if err := rows.Err(); err != nil {
		return nil, database.TranslateError(err)
	}
	return filenames, nil
}

func (r *documentRepository) Delete(ctx context.Context, tenantID string, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM documents WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return database.TranslateError(err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return database.ErrNotFound
	}

	r.logger.Info("Document row deleted", map[string]interface{}{
		"document_id": id.String(),
		"tenant_id":   tenantID,
	})
	return nil
}
