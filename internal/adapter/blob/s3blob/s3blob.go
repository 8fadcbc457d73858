// Package s3blob stores document blobs in an S3-compatible object store.
// Keys are user-scoped and never public; client reads go through presigned
// URLs.
package s3blob

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/filot/docverify/internal/domain"
)

// Store implements domain.BlobStore on a MinIO/S3 bucket.
type Store struct {
	client *minio.Client
	bucket string
}

// New connects to the object store endpoint.
func New(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("op=blob.new: %w", err)
	}
	return &Store{client: cli, bucket: bucket}, nil
}

// EnsureBucket creates the bucket if it does not exist. Idempotent.
func (s *Store) EnsureBucket(ctx domain.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("op=blob.ensure_bucket: %w", err)
	}
	if ok {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("op=blob.ensure_bucket: %w", err)
	}
	return nil
}

// Put stores data under key with the given content type.
func (s *Store) Put(ctx domain.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("op=blob.put: %w", err)
	}
	return nil
}

// Get reads the full object at key.
func (s *Store) Get(ctx domain.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("op=blob.get: %w", err)
	}
	defer func() { _ = obj.Close() }()
	data, err := io.ReadAll(obj)
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return nil, fmt.Errorf("op=blob.get: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("op=blob.get: %w", err)
	}
	return data, nil
}

// Presign returns a time-limited signed URL granting read access to key.
func (s *Store) Presign(ctx domain.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("op=blob.presign: %w", err)
	}
	return u.String(), nil
}

// Delete removes the object at key.
func (s *Store) Delete(ctx domain.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("op=blob.delete: %w", err)
	}
	return nil
}
