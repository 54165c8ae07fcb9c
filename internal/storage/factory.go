package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/imedwei/docker-pbs-backup/internal/config"
	"github.com/imedwei/docker-pbs-backup/internal/metrics"
)

// ErrNotRewindable is returned when a failed upload cannot be retried because
// its reader has already been consumed.
var ErrNotRewindable = errors.New("reader cannot be rewound for retry")

// RetryConfig holds retry configuration for storage operations.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// RetryableStorage wraps a Storage implementation with retry logic and
// per-attempt metrics.
type RetryableStorage struct {
	storage Storage
	config  RetryConfig
	logger  *slog.Logger
}

// NewRetryableStorage creates a new storage wrapper with retry logic.
func NewRetryableStorage(storage Storage, config RetryConfig, logger *slog.Logger) *RetryableStorage {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryableStorage{
		storage: storage,
		config:  config,
		logger:  logger,
	}
}

// Upload implements Storage.Upload with retry logic. Before every attempt
// after the first, a seekable reader is rewound to its start; any other
// reader gets a single attempt.
func (r *RetryableStorage) Upload(ctx context.Context, key string, reader io.Reader, metadata map[string]string) error {
	seeker, seekable := reader.(io.Seeker)
	attempt := 0

	return r.retry(ctx, func() error {
		attempt++
		if attempt > 1 {
			if !seekable {
				return ErrNotRewindable
			}
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("%w: %w", ErrNotRewindable, err)
			}
			r.logger.Warn("Retrying upload", "key", key, "attempt", attempt)
		}

		err := r.storage.Upload(ctx, key, reader, metadata)
		metrics.RecordStorageOperation("upload", r.storage.Provider(), err == nil)
		return err
	})
}

// Provider implements Storage.Provider.
func (r *RetryableStorage) Provider() string {
	return r.storage.Provider()
}

// Close implements Storage.Close.
func (r *RetryableStorage) Close() error {
	return r.storage.Close()
}

// retry executes a function with exponential backoff retry logic.
func (r *RetryableStorage) retry(ctx context.Context, fn func() error) error {
	delay := r.config.InitialDelay

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotRewindable) || ctx.Err() != nil {
			return err
		}

		if attempt == r.config.MaxAttempts {
			return fmt.Errorf("operation failed after %d attempts: %w", r.config.MaxAttempts, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * r.config.Multiplier)
		if delay > r.config.MaxDelay {
			delay = r.config.MaxDelay
		}
	}

	return nil
}

// NewStorage creates the object storage destination selected by ARCHIVE_BACKEND.
func NewStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Storage, error) {
	var storage Storage
	var err error

	switch cfg.ArchiveBackend {
	case config.BackendS3:
		s3Config := S3Config{
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Endpoint:        cfg.S3Endpoint,
			Prefix:          cfg.ObjectPrefix,
		}
		storage, err = NewS3Storage(ctx, s3Config)

	case config.BackendGCS:
		if err := ValidateServiceAccountJSON(cfg.GoogleServiceAccountJSON); err != nil {
			return nil, fmt.Errorf("invalid GCS service account: %w", err)
		}

		gcsConfig := GCSConfig{
			Bucket:             cfg.GCSBucket,
			ProjectID:          cfg.GoogleProjectID,
			ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
			Prefix:             cfg.ObjectPrefix,
		}
		storage, err = NewGCSStorage(ctx, gcsConfig)

	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.ArchiveBackend)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create %s storage: %w", cfg.ArchiveBackend, err)
	}

	return NewRetryableStorage(storage, DefaultRetryConfig(), logger), nil
}
