// Package s3 stores pipeline objects in AWS S3 or any S3-compatible service
// reachable through the AWS SDK.
package s3

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-pipeline/internal/model"
)

const defaultRegion = "us-east-1"

// Storage is an S3 object storage backend.
type Storage struct {
	Client *awss3.Client

	region       string
	endpoint     string
	accessKey    string
	secretKey    string
	usePathStyle bool
}

// Option configures a Storage.
type Option func(*Storage)

// Region sets the AWS region.
func Region(region string) Option {
	return func(s *Storage) {
		if region != "" {
			s.region = region
		}
	}
}

// Endpoint points the client at an S3-compatible service and switches to
// path-style addressing.
func Endpoint(endpoint string) Option {
	return func(s *Storage) {
		s.endpoint = endpoint
		s.usePathStyle = endpoint != ""
	}
}

// StaticCredentials uses a fixed key pair instead of the default chain
// (environment, shared config, execution role).
func StaticCredentials(accessKey, secretKey string) Option {
	return func(s *Storage) {
		s.accessKey = accessKey
		s.secretKey = secretKey
	}
}

// New loads the AWS configuration and builds the client.
func New(ctx context.Context, opts ...Option) (*Storage, error) {
	s := &Storage{region: defaultRegion}
	for _, opt := range opts {
		opt(s)
	}

	loaders := []func(*config.LoadOptions) error{config.WithRegion(s.region)}
	if s.accessKey != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.accessKey, s.secretKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	s.Client = awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		o.UsePathStyle = s.usePathStyle
		if s.endpoint != "" {
			o.BaseEndpoint = aws.String(s.endpoint)
		}
	})

	return s, nil
}

// Ping checks the connection by listing buckets, retrying with strategy.
func (s *Storage) Ping(ctx context.Context, strategy retry.Strategy) error {
	err := retry.Do(func() error {
		_, err := s.Client.ListBuckets(ctx, &awss3.ListBucketsInput{})
		if err != nil {
			zlog.Logger.Warn().Err(err).Msg("s3 is not reachable yet")
		}
		return err
	}, strategy)
	if err != nil {
		return fmt.Errorf("failed to reach s3: %w", err)
	}

	return nil
}

// Save uploads r to bucket/key.
func (s *Storage) Save(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	in := &awss3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(contentType),
	}
	if size >= 0 {
		in.ContentLength = aws.Int64(size)
	}

	if _, err := s.Client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}

	return nil
}

// Load returns the body of bucket/key.
func (s *Storage) Load(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := s.Client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}

	return out.Body, nil
}

// List returns every object under prefix, page by page, in listing order.
func (s *Storage) List(ctx context.Context, bucket, prefix string) ([]model.Object, error) {
	var objects []model.Object

	p := awss3.NewListObjectsV2Paginator(s.Client, &awss3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, model.Object{
				Key:  aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
			})
		}
	}

	return objects, nil
}
