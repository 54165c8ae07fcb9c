package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// DefaultDumpUnitName names the staging directory unit in the archive.
const DefaultDumpUnitName = "dockerProxmoxBackup"

// UploadCoordinator assembles the run's units and calls the archiver once.
type UploadCoordinator struct {
	archiver     Archiver
	dumpUnitName string
	logger       *slog.Logger
}

// NewUploadCoordinator creates a coordinator. dumpUnitName names the staging
// directory inside the archive.
func NewUploadCoordinator(archiver Archiver, dumpUnitName string, logger *slog.Logger) *UploadCoordinator {
	if dumpUnitName == "" {
		dumpUnitName = DefaultDumpUnitName
	}
	return &UploadCoordinator{
		archiver:     archiver,
		dumpUnitName: dumpUnitName,
		logger:       logger,
	}
}

// DumpUnitName returns the archive name of the staging directory unit.
func (u *UploadCoordinator) DumpUnitName() string { return u.dumpUnitName }

// Units returns the staging directory unit, if it holds anything, followed by
// the volume units.
func (u *UploadCoordinator) Units(staging *StagingArea, volumes []Unit) ([]Unit, error) {
	units := make([]Unit, 0, len(volumes)+1)

	hasContent, err := staging.HasContent()
	if err != nil {
		return nil, err
	}
	if hasContent {
		units = append(units, Unit{
			Name: u.dumpUnitName,
			Path: staging.Path(),
			Kind: KindDumpDirectory,
		})
	}
	return append(units, volumes...), nil
}

// Upload invokes the archiver exactly once. A tool that fails to start or exits
// non-zero is reported through the exit code; only cancellation is returned as
// an error.
func (u *UploadCoordinator) Upload(ctx context.Context, units []Unit) (int, error) {
	u.logger.Info("Starting upload", "units", len(units))

	exitCode, err := u.archiver.Archive(ctx, units)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return exitCode, fmt.Errorf("upload interrupted: %w", err)
		}
		u.logger.Error("Archiver failed", "error", err, "exit_code", exitCode)
		if exitCode == 0 {
			exitCode = -1
		}
		return exitCode, nil
	}

	if exitCode != 0 {
		u.logger.Error("Archiver exited with non-zero status", "exit_code", exitCode)
	} else {
		u.logger.Info("Upload finished", "exit_code", exitCode)
	}
	return exitCode, nil
}
