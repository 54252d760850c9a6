package object

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/aliskhannn/thumbnailer/internal/storage"
)

// partSize is the multipart chunk used when the object size is unknown.
const partSize = 16 << 20

// Storage provides an S3-compatible storage backend using MinIO.
// Every blob is stored as a single object in one bucket, keyed by its name.
type Storage struct {
	client     *minio.Client
	bucketName string
}

// NewStorage creates a new Storage instance connected to the specified MinIO server.
// If the bucket does not exist, it will be created automatically.
func NewStorage(ctx context.Context, endpoint, accessKey, secretKey, bucketName string, useSSL bool) (*Storage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &Storage{
		client:     client,
		bucketName: bucketName,
	}, nil
}

// Save uploads src under key. An object becomes visible only once the upload
// completes, so readers never see partial content.
func (s *Storage) Save(ctx context.Context, key string, src io.Reader, size int64, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	opts := minio.PutObjectOptions{ContentType: contentType}
	if size < 0 {
		opts.PartSize = partSize
	}

	if _, err := s.client.PutObject(ctx, s.bucketName, key, src, size, opts); err != nil {
		return fmt.Errorf("failed to save object %s: %w", key, err)
	}

	return nil
}

// Open returns a reader for the object stored under key.
func (s *Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	// GetObject is lazy and reports a missing key only on first read, so
	// existence is checked up front.
	if _, err := s.client.StatObject(ctx, s.bucketName, key, minio.StatObjectOptions{}); err != nil {
		return nil, s.mapErr("stat", key, err)
	}

	obj, err := s.client.GetObject(ctx, s.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapErr("load", key, err)
	}

	return obj, nil
}

// Delete removes the object stored under key.
func (s *Storage) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucketName, key, minio.RemoveObjectOptions{}); err != nil {
		return s.mapErr("delete", key, err)
	}

	return nil
}

// Ping checks that the bucket is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucketName, err)
	}

	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.bucketName)
	}

	return nil
}

func (s *Storage) mapErr(op, key string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("failed to %s object %s: %w", op, key, storage.ErrNotFound)
	}

	return fmt.Errorf("failed to %s object %s: %w", op, key, err)
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject":
		return true
	default:
		return false
	}
}
