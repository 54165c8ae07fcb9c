// Package trigger decides when backup runs happen: once at startup or on a
// cron schedule.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule is returned for schedules that do not parse.
var ErrInvalidSchedule = errors.New("invalid schedule")

// DefaultStopTimeout bounds how long shutdown waits for a running backup.
const DefaultStopTimeout = 5 * time.Minute

// Standard five-field expressions, an optional leading seconds field, and
// descriptors such as @daily or @every 6h.
var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule parses a cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	s, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidSchedule, expr, err)
	}
	return s, nil
}

// RunFunc performs one backup run.
type RunFunc func(ctx context.Context)

// Trigger invokes a RunFunc according to its policy. Start blocks until the
// policy is exhausted or ctx is cancelled.
type Trigger interface {
	Start(ctx context.Context, run RunFunc) error
}

// Resolve returns Once for an empty schedule and a Recurring trigger otherwise.
func Resolve(schedule string, runOnStart bool, logger *slog.Logger) (Trigger, error) {
	if schedule == "" {
		return Once{}, nil
	}
	if _, err := ParseSchedule(schedule); err != nil {
		return nil, err
	}
	return &Recurring{
		Schedule:    schedule,
		RunOnStart:  runOnStart,
		StopTimeout: DefaultStopTimeout,
		Logger:      logger,
	}, nil
}

// Once runs exactly one backup.
type Once struct{}

// Start runs the backup unless ctx is already done.
func (Once) Start(ctx context.Context, run RunFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	run(ctx)
	return nil
}

// Recurring runs backups on a cron schedule. A run that is still in progress
// when the next one is due causes that next run to be skipped.
type Recurring struct {
	Schedule    string
	RunOnStart  bool
	StopTimeout time.Duration
	Logger      *slog.Logger
}

// Start schedules the backup and blocks until ctx is cancelled, then waits up
// to StopTimeout for a running backup to finish.
func (r *Recurring) Start(ctx context.Context, run RunFunc) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger}

	c := cron.New(
		cron.WithParser(scheduleParser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	var id cron.EntryID
	id, err := c.AddFunc(r.Schedule, func() {
		run(ctx)
		if ctx.Err() == nil {
			logger.Info("Next backup scheduled", "next", c.Entry(id).Next)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to create backup schedule: %w", err)
	}

	c.Start()
	logger.Info("Backup schedule started", "schedule", r.Schedule, "next", c.Entry(id).Next)

	var wg sync.WaitGroup
	if r.RunOnStart {
		job := c.Entry(id).WrappedJob
		wg.Add(1)
		go func() {
			defer wg.Done()
			job.Run()
		}()
	}

	<-ctx.Done()
	logger.Info("Stopping backup schedule")

	stopped := make(chan struct{})
	go func() {
		<-c.Stop().Done()
		wg.Wait()
		close(stopped)
	}()

	timeout := r.StopTimeout
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	select {
	case <-stopped:
	case <-time.After(timeout):
		logger.Warn("Timed out waiting for running backup to stop", "timeout", timeout)
	}
	return nil
}

// cronLogger adapts slog to cron.Logger. cron reports every wake-up at info
// level, so those go to debug.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		l.logger.Warn("Skipping scheduled backup, previous run still in progress")
		return
	}
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
