package emit

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/conneroisu/splitpack/internal/asset"
	"github.com/conneroisu/splitpack/internal/config"
	"github.com/conneroisu/splitpack/internal/errors"
)

// Publisher copies a finished output directory somewhere else.
type Publisher interface {
	Publish(ctx context.Context, dir string, m *Manifest, manifestName string) error
}

// objectPutter is the part of *minio.Client a BucketPublisher uses.
type objectPutter interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// BucketPublisher uploads artifacts to an S3-compatible bucket. Artifacts
// go first and the manifest last, so a reader that sees the new manifest
// can fetch every file it names.
type BucketPublisher struct {
	client objectPutter
	bucket string
	prefix string
}

// NewBucketPublisher creates a publisher from configuration.
func NewBucketPublisher(cfg config.PublishConfig) (*BucketPublisher, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "publish.endpoint is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "publish.bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	return &BucketPublisher{client: client, bucket: bucket, prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

func (p *BucketPublisher) key(name string) string {
	if p.prefix == "" {
		return name
	}
	return path.Join(p.prefix, name)
}

// Publish uploads every file in m, then the stats file if present, then
// the manifest.
func (p *BucketPublisher) Publish(ctx context.Context, dir string, m *Manifest, manifestName string) error {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return errors.NewIOError(errors.ErrCodeWriteFailed, "checking bucket", err).WithContext("bucket", p.bucket)
	}
	if !exists {
		return errors.NewIOError(errors.ErrCodeWriteFailed, "bucket does not exist", nil).WithContext("bucket", p.bucket)
	}

	names := m.Files()
	if _, err := os.Stat(filepath.Join(dir, statsFilename)); err == nil {
		names = append(names, statsFilename)
	}
	names = append(names, manifestName)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := p.client.FPutObject(ctx, p.bucket, p.key(name), filepath.Join(dir, filepath.FromSlash(name)),
			minio.PutObjectOptions{ContentType: contentType(name)})
		if err != nil {
			return errors.NewIOError(errors.ErrCodeWriteFailed, "uploading artifact", err).
				WithContext("object", p.key(name))
		}
	}

	return nil
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".js":
		return "text/javascript; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".json":
		return "application/json"
	default:
		return asset.MIMEType(name)
	}
}
