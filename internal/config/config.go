// Package config handles application configuration from environment variables
// and an optional configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/imedwei/docker-pbs-backup/internal/trigger"
)

var (
	// ErrLoadConfig indicates a failure to read the configuration file.
	ErrLoadConfig = errors.New("config load failed")

	// ErrValidateConfig indicates that the loaded configuration is invalid.
	ErrValidateConfig = errors.New("configuration validation failed")
)

// Archive backends.
const (
	BackendPBS = "pbs"
	BackendS3  = "s3"
	BackendGCS = "gcs"
)

// Config holds all application configuration.
type Config struct {
	// Archival
	ArchiveBackend    string // "pbs", "s3" or "gcs"
	ArchiveDumpName   string
	UploadGracePeriod time.Duration

	// Proxmox Backup Server
	PBSRepository   string
	PBSNamespace    string
	PBSPasswordFile string
	PBSClientBin    string

	// S3 configuration
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	S3Bucket           string
	S3Region           string
	S3Endpoint         string // Optional custom endpoint

	// GCS configuration
	GCSBucket                string
	GoogleProjectID          string
	GoogleServiceAccountJSON string

	// Optional prefix for all object keys
	ObjectPrefix string

	// Scheduling and notification
	Schedule   string
	RunOnStart bool
	PingURL    string

	// Containers
	HostMountRoot        string
	StagingRoot          string
	DatabaseImageMarkers []string
	DumpPath             string
	DumpCleanup          bool
	Concurrency          int

	// Service
	MetricsPort int
	LogLevel    string
	LogFormat   string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ARCHIVE_BACKEND", BackendPBS)
	v.SetDefault("ARCHIVE_DUMP_NAME", "dockerProxmoxBackup")
	v.SetDefault("UPLOAD_GRACE_PERIOD", 30*time.Second)
	v.SetDefault("PBS_CLIENT_BIN", "proxmox-backup-client")
	v.SetDefault("HOST_MOUNT_ROOT", "/mnt")
	v.SetDefault("STAGING_ROOT", os.TempDir())
	v.SetDefault("DATABASE_IMAGE_MARKERS", "postgres,pgvecto-rs")
	v.SetDefault("DUMP_PATH", "/postgres.dump")
	v.SetDefault("DUMP_CLEANUP", true)
	v.SetDefault("BACKUP_CONCURRENCY", 1)
	v.SetDefault("RUN_ON_START", false)
	v.SetDefault("METRICS_PORT", 0)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
}

// Load reads configuration from the environment. When path is set the file is
// read first and environment variables override its values. Keys in the file
// use the same names as the environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read %s: %w", ErrLoadConfig, path, err)
		}
	}

	cfg := &Config{
		ArchiveBackend:    strings.ToLower(v.GetString("ARCHIVE_BACKEND")),
		ArchiveDumpName:   v.GetString("ARCHIVE_DUMP_NAME"),
		UploadGracePeriod: v.GetDuration("UPLOAD_GRACE_PERIOD"),

		PBSRepository:   v.GetString("PBS_REPOSITORY"),
		PBSNamespace:    v.GetString("PBS_NAMESPACE"),
		PBSPasswordFile: v.GetString("PBS_PASSWORD_FILE"),
		PBSClientBin:    v.GetString("PBS_CLIENT_BIN"),

		// S3
		AWSAccessKeyID:     v.GetString("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey: v.GetString("AWS_SECRET_ACCESS_KEY"),
		S3Bucket:           v.GetString("S3_BUCKET"),
		S3Region:           v.GetString("S3_REGION"),
		S3Endpoint:         v.GetString("S3_ENDPOINT"),

		// GCS
		GCSBucket:                v.GetString("GCS_BUCKET"),
		GoogleProjectID:          v.GetString("GOOGLE_PROJECT_ID"),
		GoogleServiceAccountJSON: v.GetString("GOOGLE_SERVICE_ACCOUNT_JSON"),
		ObjectPrefix:             v.GetString("OBJECT_PREFIX"),

		Schedule:   strings.TrimSpace(v.GetString("BACKUP_SCHEDULE")),
		RunOnStart: v.GetBool("RUN_ON_START"),
		PingURL:    v.GetString("PING_URL"),

		HostMountRoot:        v.GetString("HOST_MOUNT_ROOT"),
		StagingRoot:          v.GetString("STAGING_ROOT"),
		DatabaseImageMarkers: splitList(v.GetString("DATABASE_IMAGE_MARKERS")),
		DumpPath:             v.GetString("DUMP_PATH"),
		DumpCleanup:          v.GetBool("DUMP_CLEANUP"),
		Concurrency:          v.GetInt("BACKUP_CONCURRENCY"),

		MetricsPort: v.GetInt("METRICS_PORT"),
		LogLevel:    strings.ToLower(v.GetString("LOG_LEVEL")),
		LogFormat:   strings.ToLower(v.GetString("LOG_FORMAT")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidateConfig, err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.ArchiveBackend {
	case BackendPBS:
		if err := c.validatePBS(); err != nil {
			return err
		}
	case BackendS3:
		if err := c.validateS3(); err != nil {
			return err
		}
	case BackendGCS:
		if err := c.validateGCS(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid ARCHIVE_BACKEND: %s (must be 'pbs', 's3' or 'gcs')", c.ArchiveBackend)
	}

	if c.ArchiveDumpName == "" || strings.ContainsAny(c.ArchiveDumpName, "/:") {
		return fmt.Errorf("ARCHIVE_DUMP_NAME must be non-empty and must not contain '/' or ':'")
	}

	if c.HostMountRoot == "" {
		return fmt.Errorf("HOST_MOUNT_ROOT is required")
	}
	if !filepath.IsAbs(c.HostMountRoot) {
		return fmt.Errorf("HOST_MOUNT_ROOT must be an absolute path: %s", c.HostMountRoot)
	}

	if c.Concurrency < 1 {
		return fmt.Errorf("BACKUP_CONCURRENCY must be at least 1")
	}

	if c.UploadGracePeriod < 0 {
		return fmt.Errorf("UPLOAD_GRACE_PERIOD must be non-negative")
	}

	if c.Schedule != "" {
		if _, err := trigger.ParseSchedule(c.Schedule); err != nil {
			return fmt.Errorf("invalid BACKUP_SCHEDULE: %w", err)
		}
	}

	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("METRICS_PORT must be between 0 and 65535")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid LOG_LEVEL: %s", c.LogLevel)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid LOG_FORMAT: %s (must be 'text' or 'json')", c.LogFormat)
	}

	return nil
}

func (c *Config) validatePBS() error {
	if c.PBSRepository == "" {
		return fmt.Errorf("PBS_REPOSITORY is required for PBS archiving")
	}
	if c.PBSNamespace == "" {
		return fmt.Errorf("PBS_NAMESPACE is required for PBS archiving")
	}
	if c.PBSPasswordFile == "" {
		return fmt.Errorf("PBS_PASSWORD_FILE is required for PBS archiving")
	}
	f, err := os.Open(c.PBSPasswordFile)
	if err != nil {
		return fmt.Errorf("PBS_PASSWORD_FILE is not readable: %w", err)
	}
	_ = f.Close()
	if c.PBSClientBin == "" {
		return fmt.Errorf("PBS_CLIENT_BIN is required for PBS archiving")
	}
	return nil
}

func (c *Config) validateS3() error {
	if c.AWSAccessKeyID == "" {
		return fmt.Errorf("AWS_ACCESS_KEY_ID is required for S3 storage")
	}
	if c.AWSSecretAccessKey == "" {
		return fmt.Errorf("AWS_SECRET_ACCESS_KEY is required for S3 storage")
	}
	if c.S3Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required for S3 storage")
	}
	if c.S3Region == "" && c.S3Endpoint == "" {
		return fmt.Errorf("S3_REGION is required for S3 storage (unless S3_ENDPOINT is set)")
	}
	return nil
}

func (c *Config) validateGCS() error {
	if c.GCSBucket == "" {
		return fmt.Errorf("GCS_BUCKET is required for GCS storage")
	}
	if c.GoogleProjectID == "" {
		return fmt.Errorf("GOOGLE_PROJECT_ID is required for GCS storage")
	}
	if c.GoogleServiceAccountJSON == "" {
		return fmt.Errorf("GOOGLE_SERVICE_ACCOUNT_JSON is required for GCS storage")
	}
	return nil
}

// Namespace returns the archive namespace used by every backend.
func (c *Config) Namespace() string {
	return c.PBSNamespace
}

// Recurring reports whether runs are scheduled rather than run once.
func (c *Config) Recurring() bool {
	return c.Schedule != ""
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
