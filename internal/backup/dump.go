package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/imedwei/docker-pbs-backup/internal/utils"
)

const (
	// DefaultDumpPath is where the dump is written inside the database container.
	DefaultDumpPath = "/postgres.dump"
	// DefaultPostgresUser is used when neither label nor environment name a user.
	DefaultPostgresUser = "postgres"

	postgresUserEnv = "POSTGRES_USER"
	dumpFileExt     = ".dump"
)

// DumpResult records one execution of the dump command inside a container.
type DumpResult struct {
	Command    []string
	Stdout     string
	Stderr     string
	ExitCode   int
	SourcePath string
}

// DumpRecord describes a dump written to the staging directory.
type DumpRecord struct {
	ContainerID string `yaml:"container_id"`
	Name        string `yaml:"name"`
	Image       string `yaml:"image"`
	User        string `yaml:"user"`
	File        string `yaml:"file"`
	Size        int64  `yaml:"size"`
	Version     string `yaml:"pg_version,omitempty"`
}

// DumpExtractor takes a logical dump inside a database container and copies it
// into the staging area.
type DumpExtractor struct {
	runtime  Runtime
	dumpPath string
	cleanup  bool
	logger   *slog.Logger
}

// NewDumpExtractor creates an extractor writing dumps to dumpPath inside the
// container. With cleanup set the in-container file is removed after copy-out.
func NewDumpExtractor(runtime Runtime, dumpPath string, cleanup bool, logger *slog.Logger) *DumpExtractor {
	if dumpPath == "" {
		dumpPath = DefaultDumpPath
	}
	return &DumpExtractor{
		runtime:  runtime,
		dumpPath: dumpPath,
		cleanup:  cleanup,
		logger:   logger,
	}
}

// ResolveUser returns the database user for a container: the backup.postgres_user
// label, then POSTGRES_USER from the container environment, then "postgres".
func (d *DumpExtractor) ResolveUser(ctx context.Context, c Container) (string, error) {
	if user := strings.TrimSpace(c.Labels[LabelPostgresUser]); user != "" {
		return user, nil
	}

	details, err := d.runtime.InspectContainer(ctx, c.ID)
	if err != nil {
		return "", fmt.Errorf("failed to inspect container: %w", err)
	}
	for _, kv := range details.Env {
		key, value, ok := strings.Cut(kv, "=")
		if ok && key == postgresUserEnv && value != "" {
			return value, nil
		}
	}
	return DefaultPostgresUser, nil
}

// Command returns the dump command for a database user.
func (d *DumpExtractor) Command(user string) []string {
	return []string{"pg_dumpall", "--clean", "-U", user, "-f", d.dumpPath}
}

// Dump runs the dump command inside the container.
func (d *DumpExtractor) Dump(ctx context.Context, containerID, user string) (*DumpResult, error) {
	cmd := d.Command(user)
	res, err := d.runtime.Exec(ctx, containerID, cmd)
	if err != nil {
		return nil, err
	}
	return &DumpResult{
		Command:    cmd,
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
		ExitCode:   res.ExitCode,
		SourcePath: d.dumpPath,
	}, nil
}

// Extract dumps the container's databases and writes <name>.dump into the
// staging area. Any error means nothing usable was staged for this container.
func (d *DumpExtractor) Extract(ctx context.Context, c Container, name string, staging *StagingArea) (*DumpRecord, error) {
	logger := d.logger.With("container_id", ShortID(c.ID), "name", name)

	user, err := d.ResolveUser(ctx, c)
	if err != nil {
		return nil, err
	}

	var version string
	if v, err := probeVersion(ctx, d.runtime, c.ID); err != nil {
		logger.Debug("Could not determine pg_dumpall version", "error", err)
	} else {
		version = v.String()
	}

	logger.Info("Starting database dump", "user", user, "image", c.Image, "pg_version", version)
	start := time.Now()

	result, err := d.Dump(ctx, c.ID, user)
	if err != nil {
		return nil, fmt.Errorf("failed to run dump command: %w", err)
	}
	if result.ExitCode != 0 {
		logger.Error("Database dump command failed",
			"command", strings.Join(result.Command, " "),
			"exit_code", result.ExitCode,
			"stdout", result.Stdout,
			"stderr", result.Stderr,
		)
		return nil, fmt.Errorf("dump command exited with code %d", result.ExitCode)
	}
	if result.Stderr != "" {
		logger.Debug("Database dump stderr", "stderr", result.Stderr)
	}

	file, size, err := d.stage(ctx, c.ID, name, staging, logger)
	if err != nil {
		return nil, err
	}

	if d.cleanup {
		d.removeDump(ctx, c.ID, logger)
	}

	logger.Info("Database dump staged",
		"file", file,
		"size", utils.FormatBytes(size),
		"duration", time.Since(start),
	)

	return &DumpRecord{
		ContainerID: c.ID,
		Name:        name,
		Image:       c.Image,
		User:        user,
		File:        filepath.Base(file),
		Size:        size,
		Version:     version,
	}, nil
}

// stage copies the dump out of the container into <staging>/<name>.dump.
// A partially written file is removed.
func (d *DumpExtractor) stage(ctx context.Context, containerID, name string, staging *StagingArea, logger *slog.Logger) (string, int64, error) {
	copied, err := d.runtime.CopyFromContainer(ctx, containerID, d.dumpPath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to copy dump from container: %w", err)
	}
	defer copied.Reader.Close()

	dir, err := staging.Ensure()
	if err != nil {
		return "", 0, err
	}

	path := filepath.Join(dir, name+dumpFileExt)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create dump file: %w", err)
	}

	w := utils.NewProgressWriter(f, func(total int64, elapsed time.Duration) {
		logger.Info("Copying dump",
			"copied", utils.FormatBytes(total),
			"expected", utils.FormatBytes(copied.Size),
			"rate", utils.FormatRate(total, elapsed),
		)
	})

	n, err := utils.Copy(w, copied.Reader)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil && copied.Size > 0 && n != copied.Size {
		err = fmt.Errorf("copied %d bytes, expected %d", n, copied.Size)
	}
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warn("Failed to remove partial dump", "file", path, "error", rmErr)
		}
		return "", 0, fmt.Errorf("failed to write dump to staging: %w", err)
	}

	return path, n, nil
}

func (d *DumpExtractor) removeDump(ctx context.Context, containerID string, logger *slog.Logger) {
	res, err := d.runtime.Exec(ctx, containerID, []string{"rm", "-f", d.dumpPath})
	if err != nil {
		logger.Warn("Failed to remove dump inside container", "path", d.dumpPath, "error", err)
		return
	}
	if res.ExitCode != 0 {
		logger.Warn("Failed to remove dump inside container",
			"path", d.dumpPath,
			"exit_code", res.ExitCode,
			"stderr", res.Stderr,
		)
	}
}
