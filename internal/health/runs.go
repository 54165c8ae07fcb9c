package health

import (
	"context"
	"sync"
	"time"

	"github.com/imedwei/docker-pbs-backup/internal/backup"
)

// RunTracker remembers the result of the most recent backup run.
type RunTracker struct {
	mu       sync.RWMutex
	finished time.Time
	outcome  *backup.Outcome
	err      error
}

// Record stores the result of a run.
func (t *RunTracker) Record(outcome *backup.Outcome, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finished = time.Now()
	t.outcome = outcome
	t.err = err
}

// Check reports healthy until a run has finished, then reflects whether the
// last run succeeded.
func (t *RunTracker) Check(_ context.Context) Check {
	t.mu.RLock()
	defer t.mu.RUnlock()

	check := Check{Status: StatusHealthy, Timestamp: time.Now()}
	if t.finished.IsZero() {
		check.Details = map[string]any{"last_run": "none"}
		return check
	}

	details := map[string]any{"finished_at": t.finished}
	if t.outcome != nil {
		details["run_id"] = t.outcome.RunID
		details["error_count"] = t.outcome.ErrorCount
		details["upload_exit_code"] = t.outcome.UploadExitCode
		if !t.outcome.Success() {
			check.Status = StatusUnhealthy
		}
	}
	if t.err != nil {
		details["error"] = t.err.Error()
		check.Status = StatusUnhealthy
	}
	check.Details = details
	return check
}
