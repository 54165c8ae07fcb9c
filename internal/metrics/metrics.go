// Package metrics provides Prometheus metrics for the backup service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Runs tracks completed runs by result: success, partial or failure.
	Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docker_backup_runs_total",
		Help: "Total number of backup runs",
	}, []string{"result"})

	// RunDuration tracks the duration of run phases.
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docker_backup_duration_seconds",
		Help:    "Duration of backup phases in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68min
	}, []string{"phase"})

	// Containers tracks per-container backup attempts.
	Containers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docker_backup_containers_total",
		Help: "Total number of containers processed",
	}, []string{"strategy", "status"})

	// RunErrors is the error count of the last run.
	RunErrors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "docker_backup_last_run_errors",
		Help: "Number of container errors in the last run",
	})

	// UploadExitCode is the archiver exit code of the last run.
	UploadExitCode = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "docker_backup_last_upload_exit_code",
		Help: "Exit code of the archival tool in the last run",
	})

	// StagedBytes is the total size of dumps staged by the last run.
	StagedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "docker_backup_staged_bytes",
		Help: "Size of database dumps staged in the last run",
	})

	// Units is the number of units handed to the archiver in the last run.
	Units = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "docker_backup_units",
		Help: "Number of units archived in the last run",
	}, []string{"kind"})

	// StorageOperations tracks object storage operations.
	StorageOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docker_backup_storage_operations_total",
		Help: "Total number of storage operations",
	}, []string{"operation", "provider", "status"})

	// LastRunTimestamp is when the last run finished.
	LastRunTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "docker_backup_last_run_timestamp",
		Help: "Unix timestamp of the last finished run",
	})

	// LastSuccessTimestamp is when the last fully successful run finished.
	LastSuccessTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "docker_backup_last_success_timestamp",
		Help: "Unix timestamp of the last successful run",
	})

	// Info provides static information about the service.
	Info = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "docker_backup_info",
		Help: "Information about the backup service",
	}, []string{"version", "archive_backend"})
)

// RecordRun records the result of a finished run.
func RecordRun(result string) {
	Runs.WithLabelValues(result).Inc()
}

// RecordContainer records a container backup attempt.
func RecordContainer(strategy string, success bool) {
	Containers.WithLabelValues(strategy, status(success)).Inc()
}

// RecordStorageOperation records a storage operation.
func RecordStorageOperation(operation, provider string, success bool) {
	StorageOperations.WithLabelValues(operation, provider, status(success)).Inc()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
