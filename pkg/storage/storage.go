package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound is returned by GetObject when the key does not exist.
var ErrNotFound = errors.New("storage: object not found")

const (
	// BackendS3 selects the aws-sdk-go-v2 implementation.
	BackendS3 = "s3"
	// BackendMinIO selects the minio-go implementation.
	BackendMinIO = "minio"
)

// ObjectStore is the durable, authoritative side of the dual-write store.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
	// GetObject returns ErrNotFound when key is absent.
	GetObject(ctx context.Context, key string) ([]byte, error)
	// DeleteObject removes key; deleting a missing key is not an error.
	DeleteObject(ctx context.Context, key string) error
	// ListObjects returns every key under prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
	// PresignGet returns a time-limited GET URL for key.
	PresignGet(ctx context.Context, key string, expires time.Duration) (string, error)
}

// Config selects and configures an ObjectStore backend.
type Config struct {
	Backend string
	S3      S3Config
	MinIO   MinIOConfig
}

// New builds the configured ObjectStore.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (ObjectStore, error) {
	switch cfg.Backend {
	case "", BackendS3:
		return NewS3(ctx, cfg.S3, logger)
	case BackendMinIO:
		return NewMinIO(ctx, cfg.MinIO, logger)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}
