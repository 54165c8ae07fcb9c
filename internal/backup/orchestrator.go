package backup

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/imedwei/docker-pbs-backup/internal/config"
	"github.com/imedwei/docker-pbs-backup/internal/metrics"
)

const notifyTimeout = 30 * time.Second

// Orchestrator coordinates one backup run across all running containers.
type Orchestrator struct {
	config      *config.Config
	runtime     Runtime
	notifier    Notifier
	classifier  *Classifier
	dumps       *DumpExtractor
	volumes     *VolumeResolver
	coordinator *UploadCoordinator
	logger      *slog.Logger
}

// NewOrchestrator creates a new backup orchestrator.
func NewOrchestrator(cfg *config.Config, runtime Runtime, archiver Archiver, notifier Notifier, logger *slog.Logger) *Orchestrator {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	markers := cfg.DatabaseImageMarkers
	if len(markers) == 0 {
		markers = DefaultDatabaseMarkers
	}

	return &Orchestrator{
		config:      cfg,
		runtime:     runtime,
		notifier:    notifier,
		classifier:  NewClassifier(markers),
		dumps:       NewDumpExtractor(runtime, cfg.DumpPath, cfg.DumpCleanup, logger.With("component", "dump")),
		volumes:     NewVolumeResolver(runtime, cfg.HostMountRoot, logger.With("component", "volumes")),
		coordinator: NewUploadCoordinator(archiver, cfg.ArchiveDumpName, logger.With("component", "upload")),
		logger:      logger,
	}
}

type plannedContainer struct {
	Container
	Name     string
	Strategy Strategy
}

// Run executes one backup run. Per-container failures are counted in the
// outcome; an error is returned only when containers cannot be listed or the
// run is cancelled. The staging directory is always removed before returning.
func (o *Orchestrator) Run(ctx context.Context) (*Outcome, error) {
	runID := uuid.NewString()
	logger := o.logger.With("run_id", runID)
	start := time.Now()

	logger.Info("Starting backup run")
	o.notify(ctx, logger, "run", o.notifier.Run)

	staging := NewStagingArea(o.config.StagingRoot, runID)
	defer func() {
		created := staging.Created()
		if err := staging.Cleanup(); err != nil {
			logger.Error("Failed to clean up staging directory", "path", staging.Path(), "error", err)
		} else if created {
			logger.Debug("Removed staging directory", "path", staging.Path())
		}
	}()

	// Listing
	containers, err := o.runtime.ListContainers(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrListContainers, err)
		logger.Error("Backup run aborted", "error", err)
		o.fail(ctx, logger, err)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, o.cancelled(ctx, logger, err)
	}

	// Classifying
	plan := o.plan(containers, logger)

	// Extracting
	var errCount atomic.Int64

	extractStart := time.Now()
	records := o.extractDumps(ctx, plan, staging, &errCount, logger)
	if err := ctx.Err(); err != nil {
		return nil, o.cancelled(ctx, logger, err)
	}

	volumeUnits := o.resolveVolumes(ctx, plan, &errCount, logger)
	if err := ctx.Err(); err != nil {
		return nil, o.cancelled(ctx, logger, err)
	}
	metrics.RunDuration.WithLabelValues("extract").Observe(time.Since(extractStart).Seconds())

	// Staged
	if len(records) > 0 {
		o.writeManifest(runID, start, records, staging, logger)
	}

	// Uploading
	units, err := o.coordinator.Units(staging, volumeUnits)
	if err != nil {
		logger.Error("Failed to inspect staging directory, uploading volumes only", "error", err)
		errCount.Add(1)
		units = volumeUnits
	}

	uploadStart := time.Now()
	exitCode, err := o.coordinator.Upload(ctx, units)
	if err != nil {
		return nil, o.cancelled(ctx, logger, err)
	}
	metrics.RunDuration.WithLabelValues("upload").Observe(time.Since(uploadStart).Seconds())

	// Reporting
	outcome := &Outcome{
		RunID:          runID,
		ErrorCount:     int(errCount.Load()),
		UploadExitCode: exitCode,
		Uploaded:       true,
		Units:          units,
		Duration:       time.Since(start),
	}
	o.report(ctx, logger, outcome)

	return outcome, nil
}

// plan resolves names and strategies for every container.
func (o *Orchestrator) plan(containers []Container, logger *slog.Logger) []plannedContainer {
	names := ResolveNames(containers)
	plan := make([]plannedContainer, 0, len(containers))
	counts := make(map[Strategy]int)

	for _, c := range containers {
		p := plannedContainer{
			Container: c,
			Name:      names[c.ID],
			Strategy:  o.classifier.Classify(c),
		}
		counts[p.Strategy]++
		logger.Debug("Classified container",
			"container_id", ShortID(c.ID),
			"name", p.Name,
			"image", c.Image,
			"strategy", p.Strategy,
		)
		plan = append(plan, p)
	}

	logger.Info("Discovered containers",
		"total", len(containers),
		"database", counts[StrategyDatabaseDump],
		"volume", counts[StrategyVolumeCopy],
		"skipped", counts[StrategySkip],
	)
	return plan
}

func (o *Orchestrator) extractDumps(ctx context.Context, plan []plannedContainer, staging *StagingArea, errCount *atomic.Int64, logger *slog.Logger) []DumpRecord {
	targets := filterPlan(plan, StrategyDatabaseDump)
	results := make([]*DumpRecord, len(targets))

	o.forEach(ctx, len(targets), func(ctx context.Context, i int) {
		p := targets[i]
		rec, err := o.dumps.Extract(ctx, p.Container, p.Name, staging)
		metrics.RecordContainer(p.Strategy.String(), err == nil)
		if err != nil {
			errCount.Add(1)
			logger.Error("Database backup failed",
				"container_id", p.ID,
				"name", p.Name,
				"image", p.Image,
				"error", err,
			)
			return
		}
		results[i] = rec
	})

	var records []DumpRecord
	var staged int64
	for _, rec := range results {
		if rec != nil {
			records = append(records, *rec)
			staged += rec.Size
		}
	}
	metrics.StagedBytes.Set(float64(staged))
	return records
}

func (o *Orchestrator) resolveVolumes(ctx context.Context, plan []plannedContainer, errCount *atomic.Int64, logger *slog.Logger) []Unit {
	targets := filterPlan(plan, StrategyVolumeCopy)
	results := make([]ownedUnits, len(targets))

	o.forEach(ctx, len(targets), func(ctx context.Context, i int) {
		p := targets[i]
		units, err := o.volumes.Resolve(ctx, p.Container, p.Name)
		metrics.RecordContainer(p.Strategy.String(), err == nil)
		if err != nil {
			errCount.Add(1)
			logger.Error("Volume resolution failed",
				"container_id", p.ID,
				"name", p.Name,
				"error", err,
			)
			return
		}
		results[i] = ownedUnits{ContainerID: p.ID, Units: units}
	})

	units, dropped := uniqueUnits(o.coordinator.DumpUnitName(), results)
	for _, u := range dropped {
		errCount.Add(1)
		logger.Error("Duplicate archive name, volume not backed up", "unit", u.Name, "path", u.Path)
	}
	logger.Info("Resolved volumes", "count", len(units))
	return units
}

// forEach calls fn for indices [0, n) with at most BACKUP_CONCURRENCY calls in
// flight. It stops starting new calls once ctx is done.
func (o *Orchestrator) forEach(ctx context.Context, n int, fn func(ctx context.Context, i int)) {
	var g errgroup.Group
	g.SetLimit(max(1, o.config.Concurrency))

	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Orchestrator) writeManifest(runID string, start time.Time, records []DumpRecord, staging *StagingArea, logger *slog.Logger) {
	dir, err := staging.Ensure()
	if err == nil {
		err = NewManifest(runID, start, records).Write(dir)
	}
	if err != nil {
		logger.Warn("Failed to write run manifest", "error", err)
	}
}

func (o *Orchestrator) report(ctx context.Context, logger *slog.Logger, outcome *Outcome) {
	now := time.Now()
	metrics.RunErrors.Set(float64(outcome.ErrorCount))
	metrics.UploadExitCode.Set(float64(outcome.UploadExitCode))
	metrics.LastRunTimestamp.Set(float64(now.Unix()))
	metrics.RunDuration.WithLabelValues("total").Observe(outcome.Duration.Seconds())

	var dumpUnits, volumeUnits int
	for _, u := range outcome.Units {
		if u.Kind == KindDumpDirectory {
			dumpUnits++
		} else {
			volumeUnits++
		}
	}
	metrics.Units.WithLabelValues(KindDumpDirectory.String()).Set(float64(dumpUnits))
	metrics.Units.WithLabelValues(KindVolume.String()).Set(float64(volumeUnits))

	attrs := []any{
		"errors", outcome.ErrorCount,
		"upload_exit_code", outcome.UploadExitCode,
		"units", len(outcome.Units),
		"duration", outcome.Duration,
	}
	if outcome.Success() {
		metrics.RecordRun("success")
		metrics.LastSuccessTimestamp.Set(float64(now.Unix()))
		logger.Info("Backup run completed successfully", attrs...)
	} else {
		metrics.RecordRun("partial")
		logger.Warn("Backup run completed with errors", attrs...)
	}

	o.notify(ctx, logger, "complete", func(ctx context.Context) error {
		return o.notifier.Complete(ctx, outcome)
	})
}

func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, err error) {
	metrics.RecordRun("failure")
	metrics.LastRunTimestamp.Set(float64(time.Now().Unix()))
	o.notify(ctx, logger, "fail", func(ctx context.Context) error {
		return o.notifier.Fail(ctx, err)
	})
}

func (o *Orchestrator) cancelled(ctx context.Context, logger *slog.Logger, err error) error {
	logger.Warn("Backup run cancelled", "error", err)
	o.fail(ctx, logger, err)
	return err
}

// notify sends a notification even when the run context is already cancelled.
func (o *Orchestrator) notify(ctx context.Context, logger *slog.Logger, event string, fn func(context.Context) error) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := fn(nctx); err != nil {
		logger.Warn("Failed to send notification", "event", event, "error", err)
	}
}

func filterPlan(plan []plannedContainer, s Strategy) []plannedContainer {
	var out []plannedContainer
	for _, p := range plan {
		if p.Strategy == s {
			out = append(out, p)
		}
	}
	return out
}
