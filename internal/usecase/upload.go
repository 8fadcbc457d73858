// Package usecase holds the application services between the HTTP surface and
// the adapters: upload validation, enqueueing, result reads, the decision
// router for the two verification pathways, and callback reconciliation.
package usecase

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/filot/docverify/internal/domain"
)

// allowedUploads maps accepted MIME types to the extensions a client may
// declare for them.
var allowedUploads = map[string][]string{
	"image/jpeg":      {".jpg", ".jpeg"},
	"image/png":       {".png"},
	"application/pdf": {".pdf"},
}

// UploadService validates and stores incoming document files.
type UploadService struct {
	Docs     domain.DocumentRepository
	Blob     domain.BlobStore
	MaxBytes int64
}

// NewUploadService constructs an UploadService. maxBytes caps the accepted
// file size.
func NewUploadService(docs domain.DocumentRepository, blob domain.BlobStore, maxBytes int64) UploadService {
	return UploadService{Docs: docs, Blob: blob, MaxBytes: maxBytes}
}

// Upload validates the file (size, magic bytes, declared extension), stores
// the blob under a user-scoped key and inserts the document row in state
// uploaded. Validation happens before any byte reaches the blob store.
func (s UploadService) Upload(ctx domain.Context, userID string, docType domain.DocumentType, filename string, data []byte) (domain.Document, error) {
	if !docType.Valid() {
		return domain.Document{}, fmt.Errorf("op=upload: unsupported document type %q: %w", docType, domain.ErrInvalidArgument)
	}
	if len(data) == 0 {
		return domain.Document{}, fmt.Errorf("op=upload: empty file: %w", domain.ErrInvalidArgument)
	}
	if int64(len(data)) > s.MaxBytes {
		return domain.Document{}, fmt.Errorf("op=upload: file exceeds %d bytes: %w", s.MaxBytes, domain.ErrInvalidArgument)
	}

	mt := mimetype.Detect(data)
	exts, ok := allowedUploads[mt.String()]
	if !ok {
		return domain.Document{}, fmt.Errorf("op=upload: unsupported content type %q: %w", mt.String(), domain.ErrInvalidArgument)
	}
	declared := strings.ToLower(filepath.Ext(filename))
	if !contains(exts, declared) {
		return domain.Document{}, fmt.Errorf("op=upload: extension %q does not match detected type %q: %w",
			declared, mt.String(), domain.ErrInvalidArgument)
	}

	key := BuildBlobKey(userID, docType, declared)
	if err := s.Blob.Put(ctx, key, data, mt.String()); err != nil {
		return domain.Document{}, err
	}
	id, err := s.Docs.Create(ctx, domain.Document{
		UserID:  userID,
		Type:    docType,
		BlobKey: key,
	})
	if err != nil {
		return domain.Document{}, err
	}
	return s.Docs.Get(ctx, id)
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
