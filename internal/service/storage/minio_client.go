package storage

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"lexhub-backend/pkg/resilience"
)

// ObjectInfo is the subset of object metadata the service checks
type ObjectInfo struct {
	Size        int64
	ContentType string
}

// MinioClient wraps the MinIO client with timeout, retry and a circuit
// breaker on every call
type MinioClient struct {
	client  *minio.Client
	bucket  string
	breaker *resilience.Breaker
}

// MinioConfig holds connection settings
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// NewMinioClient creates a client for one bucket
func NewMinioClient(cfg MinioConfig) (*MinioClient, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return &MinioClient{
		client:  client,
		bucket:  cfg.Bucket,
		breaker: resilience.NewBreaker("minio", resilience.DefaultBreakerConfig()),
	}, nil
}

// EnsureBucket creates the bucket when missing
func (c *MinioClient) EnsureBucket(ctx context.Context) error {
	return c.breaker.Execute(ctx, "ensure_bucket", func(ctx context.Context) error {
		exists, err := c.client.BucketExists(ctx, c.bucket)
		if err != nil {
			return fmt.Errorf("failed to check bucket: %w", err)
		}
		if exists {
			return nil
		}
		if err := c.client.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		return nil
	})
}

// PresignedPutURL returns a URL the client uploads one object to
func (c *MinioClient) PresignedPutURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	var u *url.URL
	err := c.breaker.Execute(ctx, "presign_put", func(ctx context.Context) error {
		var err error
		u, err = c.client.PresignedPutObject(ctx, c.bucket, key, expiry)
		return err
	})
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// PresignedGetURL returns a download URL for one object
func (c *MinioClient) PresignedGetURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	var u *url.URL
	err := c.breaker.Execute(ctx, "presign_get", func(ctx context.Context) error {
		var err error
		u, err = c.client.PresignedGetObject(ctx, c.bucket, key, expiry, nil)
		return err
	})
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// Stat returns object metadata; ErrObjectNotFound when it was never uploaded
func (c *MinioClient) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	var info minio.ObjectInfo
	err := c.breaker.Execute(ctx, "stat", func(ctx context.Context) error {
		var err error
		info, err = c.client.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			// a missing object is an answer, not a dependency failure
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if info.Key == "" {
		return nil, ErrObjectNotFound
	}
	return &ObjectInfo{Size: info.Size, ContentType: info.ContentType}, nil
}

// Remove deletes one object
func (c *MinioClient) Remove(ctx context.Context, key string) error {
	return c.breaker.Execute(ctx, "remove", func(ctx context.Context) error {
		return c.client.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{})
	})
}

var _ ObjectStore = (*MinioClient)(nil)
