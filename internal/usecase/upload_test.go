package usecase

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filot/docverify/internal/domain"
)

const maxUpload = 5 << 20

func jpegBytes(n int) []byte {
	b := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}
	return append(b, bytes.Repeat([]byte{0xAB}, n-len(b))...)
}

func pngBytes() []byte {
	return []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n', 0, 0, 0, 13, 'I', 'H', 'D', 'R'}
}

func TestUpload_StoresBlobAndCreatesDocument(t *testing.T) {
	docs := newMemDocs()
	blob := newMemBlob()
	svc := NewUploadService(docs, blob, maxUpload)

	doc, err := svc.Upload(context.Background(), "user-1", domain.DocTypeKTP, "ktp.jpg", jpegBytes(2<<20))
	require.NoError(t, err)
	assert.Equal(t, "user-1", doc.UserID)
	assert.Equal(t, domain.DocTypeKTP, doc.Type)
	assert.Equal(t, domain.DocUploaded, doc.Status)
	assert.Equal(t, domain.VerifPending, doc.VerificationStatus)
	assert.True(t, strings.HasPrefix(doc.BlobKey, "user-1/KTP_"), "blob key must be user scoped: %s", doc.BlobKey)
	assert.True(t, strings.HasSuffix(doc.BlobKey, ".jpg"))

	stored, err := blob.Get(context.Background(), doc.BlobKey)
	require.NoError(t, err)
	assert.Len(t, stored, 2<<20)
	assert.Equal(t, "image/jpeg", blob.types[doc.BlobKey])
}

func TestUpload_RejectsOversizeFile(t *testing.T) {
	svc := NewUploadService(newMemDocs(), newMemBlob(), maxUpload)
	_, err := svc.Upload(context.Background(), "user-1", domain.DocTypeKTP, "ktp.jpg", jpegBytes(maxUpload+1))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestUpload_RejectsUnknownType(t *testing.T) {
	svc := NewUploadService(newMemDocs(), newMemBlob(), maxUpload)
	_, err := svc.Upload(context.Background(), "user-1", domain.DocumentType("SIM"), "sim.jpg", jpegBytes(100))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestUpload_RejectsMismatchedExtension(t *testing.T) {
	svc := NewUploadService(newMemDocs(), newMemBlob(), maxUpload)
	// PNG magic bytes declared as .jpg must not pass.
	_, err := svc.Upload(context.Background(), "user-1", domain.DocTypeKTP, "ktp.jpg", pngBytes())
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestUpload_RejectsUnsupportedContent(t *testing.T) {
	svc := NewUploadService(newMemDocs(), newMemBlob(), maxUpload)
	_, err := svc.Upload(context.Background(), "user-1", domain.DocTypeKTP, "ktp.jpg", []byte("plain text, not an image"))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestUpload_AcceptsPDFForNPWP(t *testing.T) {
	blob := newMemBlob()
	svc := NewUploadService(newMemDocs(), blob, maxUpload)
	pdf := []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF")
	doc, err := svc.Upload(context.Background(), "user-2", domain.DocTypeNPWP, "npwp.pdf", pdf)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(doc.BlobKey, "user-2/NPWP_"))
	assert.Equal(t, "application/pdf", blob.types[doc.BlobKey])
}
