package file

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-pipeline/internal/model"
)

// Storage provides an S3-compatible storage backend using MinIO.
// Every call names the bucket explicitly, so one Storage serves any number
// of pipeline buckets.
type Storage struct {
	client *minio.Client
}

// NewStorage creates a new Storage instance connected to the specified MinIO server.
// The connection is checked with the given retry strategy, and every bucket in
// buckets is created if it does not exist yet.
func NewStorage(
	ctx context.Context,
	endpoint, accessKey, secretKey string,
	useSSL bool,
	strategy retry.Strategy,
	buckets ...string,
) (*Storage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	s := &Storage{client: client}

	for _, bucket := range buckets {
		err := retry.Do(func() error {
			return s.ensureBucket(ctx, bucket)
		}, strategy)
		if err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Storage) ensureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		zlog.Logger.Warn().Err(err).Str("bucket", bucket).Msg("storage not ready")
		return fmt.Errorf("failed to check if bucket exists: %w", err)
	}

	if !exists {
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		zlog.Logger.Info().Str("bucket", bucket).Msg("bucket created")
	}

	return nil
}

// Save uploads the provided reader to bucket/key.
func (s *Storage) Save(ctx context.Context, bucket, key string, src io.Reader, size int64, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.client.PutObject(ctx, bucket, key, src, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to save file: %w", err)
	}

	return nil
}

// Load retrieves bucket/key and returns a reader. A missing object fails
// here rather than on the first read.
func (s *Storage) Load(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to load file: %w", err)
	}

	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, fmt.Errorf("failed to load file: %w", err)
	}

	return obj, nil
}

// List returns every object under prefix, recursively, in listing order.
func (s *Storage) List(ctx context.Context, bucket, prefix string) ([]model.Object, error) {
	var objects []model.Object

	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list files: %w", obj.Err)
		}
		objects = append(objects, model.Object{Key: obj.Key, Size: obj.Size})
	}

	return objects, nil
}
