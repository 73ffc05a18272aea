package attachment

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/matheus3301/parley/internal/domain"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig addresses an S3-compatible bucket the client may presign against.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Expiry    time.Duration
}

// MinioTargets presigns PUT URLs locally for self-hosted deployments that hand
// clients a scoped storage key instead of an upload-url endpoint.
type MinioTargets struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

// NewMinioTargets creates a presigning target provider.
func NewMinioTargets(cfg MinioConfig) (*MinioTargets, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &MinioTargets{client: client, bucket: cfg.Bucket, expiry: expiry}, nil
}

// UploadURL presigns a PUT for a fresh object named after fileName.
func (m *MinioTargets) UploadURL(ctx context.Context, fileName string) (string, error) {
	object := domain.NewLocalID() + "/" + path.Base(fileName)
	u, err := m.client.PresignedPutObject(ctx, m.bucket, object, m.expiry)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", object, err)
	}
	return u.String(), nil
}
