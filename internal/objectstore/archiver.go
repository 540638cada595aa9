// Package objectstore keeps an optional archive of inbound audio in a MinIO
// bucket. Archival is best-effort; failures never affect request handling.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"voice-transcription-service/internal/config"
)

// Archiver holds the MinIO client and target bucket.
type Archiver struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// New connects to MinIO and ensures the configured bucket exists.
func New(ctx context.Context, cfg config.ArchiveConfig, logger *slog.Logger) (*Archiver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket '%s' exists: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket '%s': %w", cfg.Bucket, err)
		}
		logger.Info("created audio archive bucket", slog.String("bucket", cfg.Bucket))
	}

	return &Archiver{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// Store uploads one audio payload under a unique object name that preserves
// the original file extension. It returns the object name.
func (a *Archiver) Store(ctx context.Context, originalFilename string, reader io.Reader, size int64, contentType string) (string, error) {
	objectName := uuid.New().String() + filepath.Ext(originalFilename)

	info, err := a.client.PutObject(ctx, a.bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload '%s' to bucket '%s': %w", objectName, a.bucket, err)
	}

	a.logger.Info("archived audio payload",
		slog.String("object", objectName),
		slog.Int64("size", info.Size),
	)
	return objectName, nil
}
