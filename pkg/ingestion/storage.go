package ingestion

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	ragerrors "github.com/smartramana/ragmesh/pkg/errors"
	"github.com/smartramana/ragmesh/pkg/observability"
)

// Storage persists the raw bytes of uploaded documents. Rows reference the
// returned storage path, so implementations must keep paths stable for the
// lifetime of the document.
type Storage interface {
	// Save writes the upload and returns the path to hand to Open later.
	Save(ctx context.Context, tenantID string, documentID uuid.UUID, filename string, r io.Reader) (string, error)
	// Open streams a previously saved document.
	Open(ctx context.Context, storagePath string) (io.ReadCloser, error)
	// Delete removes a stored document. Deleting a missing file is not an
	// error; document deletion must be idempotent.
	Delete(ctx context.Context, storagePath string) error
}

// LocalStorage keeps uploads on the local filesystem under
// <base>/<tenant>/<document id>/<filename>. The per-document directory makes
// same-name version uploads collide-free.
type LocalStorage struct {
	basePath string
	logger   observability.Logger
}

// NewLocalStorage returns filesystem-backed storage rooted at basePath.
func NewLocalStorage(basePath string, logger observability.Logger) *LocalStorage {
	if logger == nil {
		logger = observability.NewLogger("ingestion.storage")
	}
	return &LocalStorage{basePath: basePath, logger: logger}
}

// Save streams the upload to disk. A partially written file is removed on
// error so retried uploads never parse truncated content.
func (s *LocalStorage) Save(ctx context.Context, tenantID string, documentID uuid.UUID, filename string, r io.Reader) (string, error) {
	tenant := sanitizeComponent(tenantID)
	name := sanitizeComponent(filename)
	if tenant == "" || name == "" {
		return "", ragerrors.Newf("STORAGE_BAD_PATH", ragerrors.ClassValidation,
			"cannot derive a storage path from tenant %q and filename %q", tenantID, filename)
	}

	dir := filepath.Join(s.basePath, tenant, documentID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", ragerrors.Wrap(err, "STORAGE_WRITE_FAILED", "failed to create document directory", ragerrors.ClassTransient)
	}

	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", ragerrors.Wrap(err, "STORAGE_WRITE_FAILED", "failed to create document file", ragerrors.ClassTransient)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", ragerrors.Wrap(err, "STORAGE_WRITE_FAILED", "failed to write document content", ragerrors.ClassTransient)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", ragerrors.Wrap(err, "STORAGE_WRITE_FAILED", "failed to flush document content", ragerrors.ClassTransient)
	}
	return path, nil
}

// Open returns the stored document for reading. A missing file is permanent;
// the bytes are gone and no retry brings them back.
func (s *LocalStorage) Open(ctx context.Context, storagePath string) (io.ReadCloser, error) {
	f, err := os.Open(storagePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ragerrors.Wrap(err, "STORAGE_MISSING", "stored document file not found", ragerrors.ClassPermanent)
		}
		return nil, ragerrors.Wrap(err, "STORAGE_READ_FAILED", "failed to open stored document", ragerrors.ClassTransient)
	}
	return f, nil
}

// Delete removes the stored file and its per-document directory.
func (s *LocalStorage) Delete(ctx context.Context, storagePath string) error {
	if err := os.Remove(storagePath); err != nil && !os.IsNotExist(err) {
		return ragerrors.Wrap(err, "STORAGE_DELETE_FAILED", "failed to delete stored document", ragerrors.ClassTransient)
	}
	// The directory is empty now unless something else wrote into it.
	os.Remove(filepath.Dir(storagePath))
	return nil
}

// sanitizeComponent reduces an external value to a single safe path element.
func sanitizeComponent(s string) string {
	s = filepath.Base(strings.TrimSpace(s))
	if s == "." || s == ".." || s == string(filepath.Separator) {
		return ""
	}
	return s
}
