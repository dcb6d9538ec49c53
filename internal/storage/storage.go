// Package storage selects the object storage backend named in the
// configuration.
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/image-pipeline/internal/config"
	"github.com/aliskhannn/image-pipeline/internal/model"
	"github.com/aliskhannn/image-pipeline/internal/storage/file"
	"github.com/aliskhannn/image-pipeline/internal/storage/s3"
)

const defaultMinIOEndpoint = "localhost:9000"

// Backend is implemented by every storage backend.
type Backend interface {
	Load(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Save(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error
	List(ctx context.Context, bucket, prefix string) ([]model.Object, error)
}

// New connects to the configured backend: "minio" (default) or "s3".
// For MinIO the configured bucket is created when missing.
func New(ctx context.Context, cfg config.Storage, strategy retry.Strategy) (Backend, error) {
	switch cfg.Backend {
	case "", "minio":
		var buckets []string
		if cfg.BucketName != "" {
			buckets = append(buckets, cfg.BucketName)
		}
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultMinIOEndpoint
		}
		return file.NewStorage(ctx, endpoint, cfg.AccessKey, cfg.SecretKey, cfg.UseSSL, strategy, buckets...)

	case "s3":
		opts := []s3.Option{s3.Region(cfg.Region), s3.Endpoint(cfg.Endpoint)}
		if cfg.AccessKey != "" {
			opts = append(opts, s3.StaticCredentials(cfg.AccessKey, cfg.SecretKey))
		}
		b, err := s3.New(ctx, opts...)
		if err != nil {
			return nil, err
		}
		// A custom endpoint is a self-hosted service that may still be
		// starting; AWS itself is not pinged.
		if cfg.Endpoint != "" {
			if err := b.Ping(ctx, strategy); err != nil {
				return nil, err
			}
		}
		return b, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
