package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// gcsChunkSize bounds the memory a resumable upload buffers per request.
const gcsChunkSize = 16 * 1024 * 1024

// GCSStorage uploads archives to Google Cloud Storage.
type GCSStorage struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSConfig holds GCS-specific configuration.
type GCSConfig struct {
	Bucket             string
	ProjectID          string
	ServiceAccountJSON string
	Prefix             string
}

// NewGCSStorage creates a GCS storage provider. Without service account JSON
// the client falls back to application default credentials.
func NewGCSStorage(ctx context.Context, cfg GCSConfig) (*GCSStorage, error) {
	var opts []option.ClientOption
	if cfg.ServiceAccountJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON)))
	}
	if cfg.ProjectID != "" {
		opts = append(opts, option.WithQuotaProject(cfg.ProjectID))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSStorage{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Upload implements Storage.Upload. The object becomes visible only when the
// writer closes cleanly; an aborted copy leaves nothing behind.
func (g *GCSStorage) Upload(ctx context.Context, key string, reader io.Reader, metadata map[string]string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := g.client.Bucket(g.bucket).Object(objectName(g.prefix, key)).NewWriter(ctx)
	w.ChunkSize = gcsChunkSize
	w.ContentType = contentType(key)
	w.Metadata = metadata

	if _, err := io.Copy(w, reader); err != nil {
		// Cancelling before Close aborts the resumable session.
		cancel()
		_ = w.Close()
		return fmt.Errorf("failed to upload %s to GCS: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize GCS upload of %s: %w", key, err)
	}
	return nil
}

// Provider implements Storage.Provider.
func (g *GCSStorage) Provider() string { return "gcs" }

// Close closes the GCS client connection.
func (g *GCSStorage) Close() error {
	return g.client.Close()
}

// ValidateServiceAccountJSON checks that jsonStr is a service account key.
func ValidateServiceAccountJSON(jsonStr string) error {
	var sa struct {
		Type        string `json:"type"`
		ClientEmail string `json:"client_email"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &sa); err != nil {
		return fmt.Errorf("invalid service account JSON: %w", err)
	}
	if sa.Type != "service_account" {
		return fmt.Errorf("invalid service account type: %q", sa.Type)
	}
	return nil
}
