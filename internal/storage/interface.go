// Package storage provides object storage destinations for archived backup units.
package storage

import (
	"context"
	"io"
	"path"
	"strings"
)

// Storage uploads archive objects to a bucket.
type Storage interface {
	// Upload stores the reader's content under key. Readers that implement
	// io.Seeker may be rewound and read again on retry.
	Upload(ctx context.Context, key string, reader io.Reader, metadata map[string]string) error

	// Provider names the backend, for logs and metrics.
	Provider() string

	// Close releases client resources.
	Close() error
}

// objectName joins the configured bucket prefix and a run-relative key.
func objectName(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return path.Join(prefix, key)
}

// contentType maps archive extensions to MIME types.
func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".tar.zst"):
		return "application/zstd"
	case strings.HasSuffix(key, ".tar"):
		return "application/x-tar"
	case strings.HasSuffix(key, ".yml"), strings.HasSuffix(key, ".yaml"):
		return "application/yaml"
	default:
		return "application/octet-stream"
	}
}
