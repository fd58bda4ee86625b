package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/spec-kit/support-desk/internal/config"
	"github.com/spec-kit/support-desk/internal/domain"
	apperrors "github.com/spec-kit/support-desk/pkg/util/errorutil"
)

// MinioStorage writes ticket attachments to an S3-compatible bucket.
type MinioStorage struct {
	client        *minio.Client
	bucket        string
	baseURL       string
	maxUploadSize int64
	logger        *zap.Logger
}

// NewMinioStorage connects to the bucket, creating it when missing.
func NewMinioStorage(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*MinioStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		logger.Info("created attachment bucket", zap.String("bucket", cfg.Bucket))
	}

	return &MinioStorage{
		client:        client,
		bucket:        cfg.Bucket,
		baseURL:       publicBaseURL(cfg),
		maxUploadSize: cfg.MaxUploadSize,
		logger:        logger,
	}, nil
}

// Upload stores data under key and returns its reference.
func (s *MinioStorage) Upload(ctx context.Context, key string, data []byte, contentType string) (domain.ObjectRef, error) {
	if s.maxUploadSize > 0 && int64(len(data)) > s.maxUploadSize {
		return domain.ObjectRef{}, apperrors.NewValidationError("attachment exceeds maximum upload size",
			map[string]any{"max_bytes": s.maxUploadSize, "key": key})
	}
	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return domain.ObjectRef{}, fmt.Errorf("put object %s: %w", key, err)
	}
	s.logger.Debug("attachment stored",
		zap.String("bucket", s.bucket),
		zap.String("key", info.Key),
		zap.Int64("size", info.Size))
	return domain.ObjectRef{Key: key, URL: objectURL(s.baseURL, key)}, nil
}

func publicBaseURL(cfg config.StorageConfig) string {
	if cfg.PublicBaseURL != "" {
		return strings.TrimRight(cfg.PublicBaseURL, "/")
	}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
}

func objectURL(baseURL, key string) string {
	segments := strings.Split(key, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return baseURL + "/" + strings.Join(segments, "/")
}
