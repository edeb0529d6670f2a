package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DocumentType identifies the file format of an uploaded document.
type DocumentType string

// Supported document types
const (
	DocumentTypePDF  DocumentType = "pdf"
	DocumentTypeDOCX DocumentType = "docx"
	DocumentTypePPTX DocumentType = "pptx"
	DocumentTypeTXT  DocumentType = "txt"
)

// MaxUploadSize is the upload ceiling in bytes.
const MaxUploadSize = 25 * 1024 * 1024

// Validate ensures the document type is supported
func (d DocumentType) Validate() error {
	switch d {
	case DocumentTypePDF, DocumentTypeDOCX, DocumentTypePPTX, DocumentTypeTXT:
		return nil
	default:
		return fmt.Errorf("invalid document type: %s", d)
	}
}

// DocumentTypeFromFilename derives the type from the file extension.
func DocumentTypeFromFilename(filename string) (DocumentType, error) {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 || idx == len(filename)-1 {
		return "", fmt.Errorf("filename %q has no extension", filename)
	}
	dt := DocumentType(strings.ToLower(filename[idx+1:]))
	if err := dt.Validate(); err != nil {
		return "", err
	}
	return dt, nil
}

// Document is the row model for an uploaded document. Only the ingestion
// worker mutates processing_status; uploads retire prior versions by
// flipping is_active.
type Document struct {
	ID               uuid.UUID    `json:"id" db:"id"`
	TenantID         string       `json:"tenant_id" db:"tenant_id"`
	Filename         string       `json:"filename" db:"filename"`
	StoragePath      string       `json:"storage_path" db:"storage_path"`
	DocumentType     DocumentType `json:"document_type" db:"document_type"`
	Version          int          `json:"version" db:"version"`
	IsActive         bool         `json:"is_active" db:"is_active"`
	ProcessingStatus string       `json:"processing_status" db:"processing_status"`
	ErrorMessage     *string      `json:"error_message,omitempty" db:"error_message"`
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at" db:"updated_at"`
}
