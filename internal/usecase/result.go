package usecase

import (
	"fmt"
	"time"

	"github.com/filot/docverify/internal/domain"
)

// ResultService reads processing outcomes and hands out presigned download
// URLs.
type ResultService struct {
	Docs       domain.DocumentRepository
	Blob       domain.BlobStore
	Bucket     string
	PresignTTL time.Duration
}

// NewResultService constructs a ResultService.
func NewResultService(docs domain.DocumentRepository, blob domain.BlobStore, bucket string, presignTTL time.Duration) ResultService {
	return ResultService{Docs: docs, Blob: blob, Bucket: bucket, PresignTTL: presignTTL}
}

// Result returns the document with its current status and result payload.
// Ownership mismatches surface as not-found.
func (s ResultService) Result(ctx domain.Context, userID, docID string) (domain.Document, error) {
	doc, err := s.Docs.Get(ctx, docID)
	if err != nil {
		return domain.Document{}, err
	}
	if doc.UserID != userID {
		return domain.Document{}, fmt.Errorf("op=result.get: %w", domain.ErrNotFound)
	}
	return doc, nil
}

// Download returns a presigned URL for the document blob and its TTL in
// seconds.
func (s ResultService) Download(ctx domain.Context, userID, docID string) (string, int64, error) {
	doc, err := s.Result(ctx, userID, docID)
	if err != nil {
		return "", 0, err
	}
	key, err := KeyFromBlobRef(doc.BlobKey, s.Bucket)
	if err != nil {
		return "", 0, err
	}
	u, err := s.Blob.Presign(ctx, key, s.PresignTTL)
	if err != nil {
		return "", 0, err
	}
	return u, int64(s.PresignTTL.Seconds()), nil
}
