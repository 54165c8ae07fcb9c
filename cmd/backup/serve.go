package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/imedwei/docker-pbs-backup/internal/archive"
	"github.com/imedwei/docker-pbs-backup/internal/backup"
	"github.com/imedwei/docker-pbs-backup/internal/config"
	"github.com/imedwei/docker-pbs-backup/internal/docker"
	"github.com/imedwei/docker-pbs-backup/internal/health"
	"github.com/imedwei/docker-pbs-backup/internal/metrics"
	"github.com/imedwei/docker-pbs-backup/internal/notify"
	"github.com/imedwei/docker-pbs-backup/internal/server"
	"github.com/imedwei/docker-pbs-backup/internal/storage"
	"github.com/imedwei/docker-pbs-backup/internal/trigger"
	"github.com/imedwei/docker-pbs-backup/internal/version"
)

// errRunFailed makes a single run exit non-zero.
var errRunFailed = errors.New("backup run failed, see log for details")

func serve(ctx context.Context, configFile string, once bool) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return err
	}

	logger := newLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	// Log configuration without secrets.
	logger.Info("Docker PBS backup starting",
		"version", version.Version,
		"archive_backend", cfg.ArchiveBackend,
		"namespace", cfg.Namespace(),
		"schedule", cfg.Schedule,
		"host_mount_root", cfg.HostMountRoot,
		"concurrency", cfg.Concurrency,
	)

	runtime, err := docker.New(logger)
	if err != nil {
		logger.Error("Failed to connect to Docker", "error", err)
		return err
	}
	defer runtime.Close()

	archiver, closeArchiver, err := newArchiver(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to create archiver", "error", err)
		return err
	}
	defer closeArchiver()

	notifier, err := notify.New(cfg.PingURL, logger)
	if err != nil {
		logger.Error("Failed to create notifier", "error", err)
		return err
	}

	orchestrator := backup.NewOrchestrator(cfg, runtime, archiver, notifier, logger)
	metrics.Info.WithLabelValues(version.Version, cfg.ArchiveBackend).Set(1)

	var tracker health.RunTracker
	if cfg.MetricsPort > 0 {
		stopServer := startServer(cfg.MetricsPort, runtime, &tracker, logger)
		defer stopServer()
	}

	var trig trigger.Trigger = trigger.Once{}
	if !once {
		if trig, err = trigger.Resolve(cfg.Schedule, cfg.RunOnStart, logger); err != nil {
			return err
		}
	}

	var failed atomic.Bool
	err = trig.Start(ctx, func(ctx context.Context) {
		outcome, err := orchestrator.Run(ctx)
		tracker.Record(outcome, err)
		switch {
		case err != nil:
			logger.Error("Backup run aborted", "error", err)
			failed.Store(true)
		case !outcome.Success():
			failed.Store(true)
		default:
			failed.Store(false)
		}
	})
	if err != nil {
		logger.Error("Trigger stopped", "error", err)
		return err
	}

	if _, isOnce := trig.(trigger.Once); isOnce && failed.Load() {
		return errRunFailed
	}
	logger.Info("Docker PBS backup stopped")
	return nil
}

func newArchiver(ctx context.Context, cfg *config.Config, logger *slog.Logger) (backup.Archiver, func(), error) {
	if cfg.ArchiveBackend == config.BackendPBS {
		pbs := archive.NewPBS(archive.PBSConfig{
			ClientBin:    cfg.PBSClientBin,
			Repository:   cfg.PBSRepository,
			Namespace:    cfg.PBSNamespace,
			PasswordFile: cfg.PBSPasswordFile,
			GracePeriod:  cfg.UploadGracePeriod,
		}, logger)
		return pbs, func() {}, nil
	}

	store, err := storage.NewStorage(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	closeStore := func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close storage client", "error", err)
		}
	}
	return archive.NewObject(store, cfg.Namespace(), cfg.StagingRoot, logger), closeStore, nil
}

func startServer(port int, runtime *docker.Client, tracker *health.RunTracker, logger *slog.Logger) func() {
	serverConfig := server.DefaultConfig()
	serverConfig.Port = port
	httpServer := server.New(serverConfig, logger)

	httpServer.RegisterHealthCheck("docker", health.PingCheck(runtime.Ping, 5*time.Second))
	httpServer.RegisterHealthCheck("last_run", tracker.Check)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.Start(); err != nil {
			logger.Error("HTTP server failed", "error", err)
		}
	}()
	httpServer.SetReady(true)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed", "error", err)
		}
		wg.Wait()
	}
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
