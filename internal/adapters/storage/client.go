// Package storage mirrors store backups to S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"leadengine/platform/config"
)

const backupContentType = "application/json"

// MinIOMirror uploads backup snapshots into one bucket.
type MinIOMirror struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinIOMirror creates a mirror for the configured bucket.
func NewMinIOMirror(cfg config.BackupMirrorConfig) (*MinIOMirror, error) {
	if !cfg.IsMinIOEnabled() {
		return nil, fmt.Errorf("MinIO is not configured")
	}

	client, err := minio.New(cfg.GetMinIOEndpoint(), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.GetMinIOAccessKey(), cfg.GetMinIOSecretKey(), ""),
		Secure: cfg.GetMinIOUseSSL(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &MinIOMirror{
		client: client,
		bucket: cfg.GetMinIOBackupBucket(),
		prefix: "backups",
	}, nil
}

// EnsureBucketExists creates the bucket if it doesn't exist.
func (m *MinIOMirror) EnsureBucketExists(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", m.bucket, err)
		}
	}
	return nil
}

// Upload stores one backup under its local file name.
func (m *MinIOMirror) Upload(ctx context.Context, name string, data []byte) error {
	key := ObjectKey(m.prefix, name)
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: backupContentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload backup %s: %w", key, err)
	}
	return nil
}

// ObjectKey joins a prefix and a backup file name into an object key.
func ObjectKey(prefix, name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if prefix == "" {
		return name
	}
	return path.Join(strings.Trim(prefix, "/"), name)
}
