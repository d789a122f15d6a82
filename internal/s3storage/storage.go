// Package s3storage archives source PDFs in S3-compatible object storage
// once their paper has been saved.
package s3storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/PaperDrop/internal/config"
	"github.com/dharsanguruparan/PaperDrop/internal/model"
)

// Storage wraps MinIO/S3 interactions for archived source files.
type Storage struct {
	client  *minio.Client
	bucket  string
	region  string
	linkTTL time.Duration
	logger  *slog.Logger
}

// New creates a MinIO client from the archive config.
func New(cfg config.ArchiveConfig, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	ttl := cfg.LinkTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Storage{
		client:  client,
		bucket:  cfg.Bucket,
		region:  cfg.Region,
		linkTTL: ttl,
		logger:  logger.With("component", "archive"),
	}, nil
}

// EnsureBucket makes sure the archive bucket exists before use.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
		s.logger.Info("Created archive bucket", "bucket", s.bucket)
	}
	return nil
}

// ObjectKey returns uploads/<paperID>/<file name>.
func ObjectKey(paperID, name string) string {
	base := filepath.Base(name)
	if base == "." || base == "/" || base == "" {
		base = "source.pdf"
	}
	return path.Join("uploads", paperID, base)
}

// Archive uploads the source file of paperID and returns its object key.
func (s *Storage) Archive(ctx context.Context, paperID string, file model.SourceFile) (string, error) {
	key := ObjectKey(paperID, file.Name)
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}
	opts := minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"paper-id": paperID},
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(file.Data), int64(len(file.Data)), opts)
	if err != nil {
		return "", fmt.Errorf("upload source object: %w", err)
	}
	s.logger.Info("Archived source file", "paper_id", paperID, "key", key, "size", len(file.Data))
	return key, nil
}

// Download fetches an archived object.
func (s *Storage) Download(ctx context.Context, objectKey string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get source object: %w", err)
	}
	defer obj.Close()
	buf, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read source object: %w", err)
	}
	return buf, nil
}

// PresignURL returns a signed GET URL for an archived object, valid for the
// configured link TTL.
func (s *Storage) PresignURL(ctx context.Context, objectKey string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey, s.linkTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign source object: %w", err)
	}
	return u.String(), nil
}
