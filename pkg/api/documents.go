package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	ragerrors "github.com/smartramana/ragmesh/pkg/errors"
	"github.com/smartramana/ragmesh/pkg/models"
)

// documentUploadResponse acknowledges an accepted upload. The full row,
// including processing progress, is available on GET.
type documentUploadResponse struct {
	DocumentID       string    `json:"document_id"`
	TenantID         string    `json:"tenant_id"`
	Filename         string    `json:"filename"`
	DocumentType     string    `json:"document_type"`
	StoragePath      string    `json:"storage_path"`
	ProcessingStatus string    `json:"processing_status"`
	CreatedAt        time.Time `json:"created_at"`
}

type documentListResponse struct {
	Documents []models.Document `json:"documents"`
	Count     int               `json:"count"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
}

func (s *Server) uploadDocumentHandler(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		_ = c.Error(ragerrors.Wrap(err, "UPLOAD_MISSING_FILE", "multipart form must carry a file field", ragerrors.ClassValidation))
		return
	}
	f, err := fh.Open()
	if err != nil {
		_ = c.Error(ragerrors.Wrap(err, "UPLOAD_READ_FAILED", "failed to read uploaded file", ragerrors.ClassTransient))
		return
	}
	defer func() { _ = f.Close() }()

	doc, err := s.deps.Documents.Upload(
		c.Request.Context(),
		tenantFrom(c),
		fh.Filename,
		fh.Size,
		fh.Header.Get("Content-Type"),
		f,
	)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, documentUploadResponse{
		DocumentID:       doc.ID.String(),
		TenantID:         doc.TenantID,
		Filename:         doc.Filename,
		DocumentType:     string(doc.DocumentType),
		StoragePath:      doc.StoragePath,
		ProcessingStatus: doc.ProcessingStatus,
		CreatedAt:        doc.CreatedAt,
	})
}

func (s *Server) listDocumentsHandler(c *gin.Context) {
	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		_ = c.Error(err)
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if limit == 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	docs, err := s.deps.Documents.List(c.Request.Context(), tenantFrom(c), limit, offset)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if docs == nil {
		docs = []models.Document{}
	}

	c.JSON(http.StatusOK, documentListResponse{
		Documents: docs,
		Count:     len(docs),
		Limit:     limit,
		Offset:    offset,
	})
}

func (s *Server) getDocumentHandler(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		_ = c.Error(ragerrors.New("DOCUMENT_BAD_ID", "document id is not a valid UUID", ragerrors.ClassValidation))
		return
	}

	doc, err := s.deps.Documents.Get(c.Request.Context(), tenantFrom(c), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) deleteDocumentHandler(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		_ = c.Error(ragerrors.New("DOCUMENT_BAD_ID", "document id is not a valid UUID", ragerrors.ClassValidation))
		return
	}

	if err := s.deps.Documents.Delete(c.Request.Context(), tenantFrom(c), id); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, ragerrors.New("API_BAD_QUERY", name+" must be a non-negative integer", ragerrors.ClassValidation)
	}
	return v, nil
}
