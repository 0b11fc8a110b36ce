// Package push publishes image exports to S3-compatible object storage.
package push

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/vk/kiln/internal/ctxlog"
	"github.com/vk/kiln/internal/image"
	"github.com/vk/kiln/internal/store"
)

// Config describes the target bucket.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Validate checks that the required fields are set.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("push: endpoint is required")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return fmt.Errorf("push: access and secret keys are required")
	}
	if c.Bucket == "" {
		return fmt.Errorf("push: bucket is required")
	}
	return nil
}

// Publisher uploads image tarballs to a single bucket.
type Publisher struct {
	client *minio.Client
	bucket string
}

// New creates a Publisher for the configured endpoint and bucket.
func New(cfg Config) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("push: failed to create object storage client: %w", err)
	}

	return &Publisher{client: client, bucket: cfg.Bucket}, nil
}

// Publish streams the image export into the bucket, creating the bucket if
// it does not exist. It returns the object key.
func (p *Publisher) Publish(ctx context.Context, s *store.Store, img *image.Image) (string, error) {
	logger := ctxlog.FromContext(ctx)

	if err := p.ensureBucket(ctx); err != nil {
		return "", err
	}

	key := fmt.Sprintf("%s/%s.tar", img.Name, img.Digest)

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(s.Export(img, pw))
	}()

	logger.Info("Publishing image.", "bucket", p.bucket, "key", key)
	_, err := p.client.PutObject(ctx, p.bucket, key, pr, -1, minio.PutObjectOptions{
		ContentType: "application/x-tar",
	})
	if err != nil {
		pr.CloseWithError(err)
		return "", fmt.Errorf("push: upload of %s failed: %w", key, err)
	}

	return key, nil
}

func (p *Publisher) ensureBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("push: bucket check failed: %w", err)
	}
	if exists {
		return nil
	}
	if err := p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("push: failed to create bucket %s: %w", p.bucket, err)
	}
	return nil
}
