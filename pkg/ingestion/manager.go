package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smartramana/ragmesh/pkg/database"
	ragerrors "github.com/smartramana/ragmesh/pkg/errors"
	"github.com/smartramana/ragmesh/pkg/models"
	"github.com/smartramana/ragmesh/pkg/observability"
	"github.com/smartramana/ragmesh/pkg/redisclient"
)

// Queue hands uploaded document ids to the worker.
type Queue interface {
	Enqueue(ctx context.Context, documentID uuid.UUID) error
}

// RedisQueue is a Redis list. Uploads push ids onto the head; workers pop
// from the tail, so documents process in upload order.
type RedisQueue struct {
	client *redisclient.ResilientClient
	name   string
}

// NewRedisQueue returns a queue backed by the named Redis list.
func NewRedisQueue(client *redisclient.ResilientClient, name string) *RedisQueue {
	if name == "" {
		name = "ingest:queue"
	}
	return &RedisQueue{client: client, name: name}
}

// Enqueue pushes a document id for processing.
func (q *RedisQueue) Enqueue(ctx context.Context, documentID uuid.UUID) error {
	return q.client.LPush(ctx, q.name, documentID.String())
}

// Dequeue blocks up to timeout for the next document id. It bypasses the
// resilience wrapper because a blocking pop held open on purpose would trip
// the breaker's timeout accounting. Returns redis.Nil when the queue stays
// empty for the whole window.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	vals, err := q.client.GetClient().BRPop(ctx, timeout, q.name).Result()
	if err != nil {
		return "", err
	}
	if len(vals) != 2 {
		return "", fmt.Errorf("unexpected BRPOP reply of %d values", len(vals))
	}
	return vals[1], nil
}

// DocumentCatalog is the slice of the document repository the upload side
// uses.
type DocumentCatalog interface {
	Insert(ctx context.Context, doc *models.Document) error
	GetForTenant(ctx context.Context, tenantID string, id uuid.UUID) (*models.Document, error)
	ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]models.Document, error)
	NextVersion(ctx context.Context, tenantID, filename string) (int, error)
	DeactivatePriorVersions(ctx context.Context, tenantID, filename string, keep uuid.UUID) (int64, error)
	Delete(ctx context.Context, tenantID string, id uuid.UUID) error
}

// ChunkDeleter removes a document's chunk rows.
type ChunkDeleter interface {
	DeleteByDocument(ctx context.Context, documentID string) (int64, error)
}

// VectorDeleter removes a document's dense vectors.
type VectorDeleter interface {
	DeleteByDocument(ctx context.Context, tenantID, documentID string) error
}

// allowedMIME reports whether uploads are expected to carry this content
// type. Browsers lie about MIME types often enough that a mismatch only
// warns; the file extension decides which parser runs.
func allowedMIME(mime string) bool {
	switch mime {
	case "application/pdf",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.openxmlformats-officedocument.presentationml.presentation",
		"text/plain":
		return true
	}
	return false
}

// ManagerDeps wires the document manager.
type ManagerDeps struct {
	Documents DocumentCatalog
	Chunks    ChunkDeleter
	Vectors   VectorDeleter
	Storage   Storage
	Queue     Queue

	// MaxUploadBytes caps upload size. Zero means the built-in default.
	MaxUploadBytes int64

	Logger  observability.Logger
	Metrics observability.MetricsClient
}

// DocumentManager owns the upload-facing half of ingestion: validation,
// versioned storage, row creation, and queueing. Pipeline execution lives in
// the Processor.
type DocumentManager struct {
	deps    ManagerDeps
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewDocumentManager builds a manager, defaulting the observability deps.
func NewDocumentManager(deps ManagerDeps) *DocumentManager {
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger("ingestion.manager")
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewNoOpMetricsClient()
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = models.MaxUploadSize
	}
	return &DocumentManager{deps: deps, logger: deps.Logger, metrics: deps.Metrics}
}

// Upload validates and stores a document, creates its row as a new version of
// the filename, and queues it for processing. The returned document is in
// status UPLOADED; processing happens asynchronously.
func (m *DocumentManager) Upload(ctx context.Context, tenantID, filename string, size int64, contentType string, r io.Reader) (*models.Document, error) {
	tenantID = strings.TrimSpace(tenantID)
	filename = strings.TrimSpace(filename)
	if tenantID == "" {
		return nil, ragerrors.New("UPLOAD_MISSING_TENANT", "tenant id is required", ragerrors.ClassValidation)
	}
	if filename == "" {
		return nil, ragerrors.New("UPLOAD_BAD_FILENAME", "filename is required", ragerrors.ClassValidation)
	}
	if size > m.deps.MaxUploadBytes {
		return nil, ragerrors.Newf("UPLOAD_TOO_LARGE", ragerrors.ClassValidation,
			"file of %d bytes exceeds the %d MB upload limit", size, m.deps.MaxUploadBytes/(1024*1024)).
			WithDetail("size_bytes", size)
	}

	docType, err := models.DocumentTypeFromFilename(filename)
	if err != nil {
		return nil, ragerrors.Wrap(err, "UPLOAD_BAD_TYPE", "unsupported document type", ragerrors.ClassValidation)
	}
	if mime := normalizeMIME(contentType); mime != "" && !allowedMIME(mime) {
		m.logger.Warn("Unexpected content type for upload", map[string]interface{}{
			"tenant_id":    tenantID,
			"filename":     filename,
			"content_type": mime,
		})
	}

	version, err := m.deps.Documents.NextVersion(ctx, tenantID, filename)
	if err != nil {
		return nil, ragerrors.Wrap(err, "UPLOAD_VERSION_FAILED", "failed to allocate document version", ragerrors.ClassTransient)
	}

	id := uuid.New()
	storagePath, err := m.deps.Storage.Save(ctx, tenantID, id, filename, r)
	if err != nil {
		return nil, err
	}

	doc := &models.Document{
		ID:               id,
		TenantID:         tenantID,
		Filename:         filename,
		StoragePath:      storagePath,
		DocumentType:     docType,
		Version:          version,
		IsActive:         true,
		ProcessingStatus: string(StatusUploaded),
	}
	if err := m.deps.Documents.Insert(ctx, doc); err != nil {
		m.cleanupFile(ctx, storagePath)
		return nil, ragerrors.Wrap(err, "UPLOAD_PERSIST_FAILED", "failed to persist document row", ragerrors.ClassTransient)
	}

	if version > 1 {
		retired, err := m.deps.Documents.DeactivatePriorVersions(ctx, tenantID, filename, id)
		if err != nil {
			m.cleanupRow(ctx, tenantID, id)
			m.cleanupFile(ctx, storagePath)
			return nil, ragerrors.Wrap(err, "UPLOAD_VERSION_FAILED", "failed to retire prior document versions", ragerrors.ClassTransient)
		}
		m.logger.Info("Prior versions retired", map[string]interface{}{
			"tenant_id": tenantID,
			"filename":  filename,
			"retired":   retired,
		})
	}

	if err := m.deps.Queue.Enqueue(ctx, id); err != nil {
		// The row and file stay; a requeue can pick the document up without
		// re-uploading.
		m.logger.Error("Failed to enqueue document for processing", map[string]interface{}{
			"document_id": id.String(),
			"tenant_id":   tenantID,
			"error":       err.Error(),
		})
		return nil, ragerrors.Wrap(err, "UPLOAD_ENQUEUE_FAILED", "document stored but not queued for processing", ragerrors.ClassTransient)
	}

	m.metrics.IncrementCounterWithLabels("ingest_documents_total", 1, map[string]string{"status": "uploaded"})
	m.logger.Info("Document uploaded", map[string]interface{}{
		"document_id": id.String(),
		"tenant_id":   tenantID,
		"filename":    filename,
		"version":     version,
		"size_bytes":  size,
	})
	return doc, nil
}

// Get loads one document scoped to its tenant.
func (m *DocumentManager) Get(ctx context.Context, tenantID string, id uuid.UUID) (*models.Document, error) {
	doc, err := m.deps.Documents.GetForTenant(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ragerrors.Wrap(err, "DOCUMENT_NOT_FOUND", "document not found", ragerrors.ClassNotFound)
		}
		return nil, ragerrors.Wrap(err, "DOCUMENT_LOOKUP_FAILED", "failed to load document", ragerrors.ClassTransient)
	}
	return doc, nil
}

// List returns a page of the tenant's documents, newest first.
func (m *DocumentManager) List(ctx context.Context, tenantID string, limit, offset int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	docs, err := m.deps.Documents.ListByTenant(ctx, tenantID, limit, offset)
	if err != nil {
		return nil, ragerrors.Wrap(err, "DOCUMENT_LIST_FAILED", "failed to list documents", ragerrors.ClassTransient)
	}
	return docs, nil
}

// Delete removes a document and everything derived from it: dense vectors
// first, then chunk rows, then the document row, then the stored file.
// Deleting an unknown document is a no-op so the operation can be retried.
func (m *DocumentManager) Delete(ctx context.Context, tenantID string, id uuid.UUID) error {
	doc, err := m.deps.Documents.GetForTenant(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			m.logger.Info("Delete of unknown document is a no-op", map[string]interface{}{
				"document_id": id.String(),
				"tenant_id":   tenantID,
			})
			return nil
		}
		return ragerrors.Wrap(err, "DOCUMENT_LOOKUP_FAILED", "failed to load document", ragerrors.ClassTransient)
	}

	if err := m.deps.Vectors.DeleteByDocument(ctx, tenantID, id.String()); err != nil {
		return err
	}
	removed, err := m.deps.Chunks.DeleteByDocument(ctx, id.String())
	if err != nil {
		return ragerrors.Wrap(err, "DOCUMENT_DELETE_FAILED", "failed to delete chunk rows", ragerrors.ClassTransient)
	}
	if err := m.deps.Documents.Delete(ctx, tenantID, id); err != nil && !errors.Is(err, database.ErrNotFound) {
		return ragerrors.Wrap(err, "DOCUMENT_DELETE_FAILED", "failed to delete document row", ragerrors.ClassTransient)
	}
	if err := m.deps.Storage.Delete(ctx, doc.StoragePath); err != nil {
		// The row is gone, so the document no longer exists for the tenant.
		// An orphaned file is a cleanup concern, not a failed delete.
		m.logger.Warn("Failed to delete stored file", map[string]interface{}{
			"document_id":  id.String(),
			"storage_path": doc.StoragePath,
			"error":        err.Error(),
		})
	}

	m.metrics.IncrementCounterWithLabels("ingest_documents_total", 1, map[string]string{"status": "deleted"})
	m.logger.Info("Document deleted", map[string]interface{}{
		"document_id":    id.String(),
		"tenant_id":      tenantID,
		"chunks_deleted": removed,
	})
	return nil
}

func (m *DocumentManager) cleanupFile(ctx context.Context, storagePath string) {
	if err := m.deps.Storage.Delete(ctx, storagePath); err != nil {
		m.logger.Warn("Failed to clean up stored file after upload error", map[string]interface{}{
			"storage_path": storagePath,
			"error":        err.Error(),
		})
	}
}

func (m *DocumentManager) cleanupRow(ctx context.Context, tenantID string, id uuid.UUID) {
	if err := m.deps.Documents.Delete(ctx, tenantID, id); err != nil {
		m.logger.Warn("Failed to clean up document row after upload error", map[string]interface{}{
			"document_id": id.String(),
			"error":       err.Error(),
		})
	}
}

// normalizeMIME strips parameters like "; charset=utf-8" from a content type.
func normalizeMIME(contentType string) string {
	mime, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mime))
}
