package usecase

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/filot/docverify/internal/domain"
)

// BuildBlobKey builds the canonical user-scoped blob key:
// {userID}/{type}_{uuid}.{ext}. Cross-user access is impossible by
// construction; the key never leaves the service unsigned.
func BuildBlobKey(userID string, docType domain.DocumentType, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	return fmt.Sprintf("%s/%s_%s.%s", userID, docType, uuid.New().String(), ext)
}

// KeyFromBlobRef normalizes a stored blob reference into an object key. Old
// rows stored full direct URLs of the form scheme://host/{bucket}/{key...};
// new rows store the opaque key as-is.
func KeyFromBlobRef(ref, bucket string) (string, error) {
	if !strings.Contains(ref, "://") {
		if ref == "" {
			return "", fmt.Errorf("op=blobkey.normalize: empty reference: %w", domain.ErrInvalidArgument)
		}
		return ref, nil
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("op=blobkey.normalize: %w", domain.ErrInvalidArgument)
	}
	path := strings.TrimPrefix(u.Path, "/")
	prefix := bucket + "/"
	if !strings.HasPrefix(path, prefix) {
		return "", fmt.Errorf("op=blobkey.normalize: bucket not in path: %w", domain.ErrInvalidArgument)
	}
	key := strings.TrimPrefix(path, prefix)
	if key == "" {
		return "", fmt.Errorf("op=blobkey.normalize: empty key: %w", domain.ErrInvalidArgument)
	}
	return key, nil
}
