package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig holds the configuration for MinIO publishing.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string // Optional: skips the bucket location lookup when set
	UseSSL    bool
}

// Compile-time check that MinioPublisher implements Publisher.
var _ Publisher = (*MinioPublisher)(nil)

// MinioPublisher uploads job artifacts to a MinIO bucket.
type MinioPublisher struct {
	client   *minio.Client
	bucket   string
	endpoint string
	useSSL   bool
}

// NewMinioPublisher creates a MinIO client for cfg. It does not contact the server.
func NewMinioPublisher(cfg MinioConfig) (*MinioPublisher, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("%w: bucket is required", ErrNotConfigured)
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinioPublisher{
		client:   mc,
		bucket:   cfg.Bucket,
		endpoint: cfg.Endpoint,
		useSSL:   cfg.UseSSL,
	}, nil
}

// Bucket returns the target bucket name.
func (p *MinioPublisher) Bucket() string {
	return p.bucket
}

// EnsureBucket creates the bucket if it does not exist.
func (p *MinioPublisher) EnsureBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	if err := p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{}); err != nil {
		exists, checkErr := p.client.BucketExists(ctx, p.bucket)
		if checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", p.bucket, err)
	}

	return nil
}

// Publish uploads the file at path under key and returns its URL.
func (p *MinioPublisher) Publish(ctx context.Context, key, path string) (string, error) {
	_, err := p.client.FPutObject(ctx, p.bucket, key, path, minio.PutObjectOptions{
		ContentType: contentType(path),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return p.objectURL(key), nil
}

func (p *MinioPublisher) objectURL(key string) string {
	scheme := "http"
	if p.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, p.endpoint, p.bucket, key)
}
