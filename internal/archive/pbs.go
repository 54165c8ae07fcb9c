// Package archive implements the archival backends that receive a run's
// backup units.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/imedwei/docker-pbs-backup/internal/backup"
)

// DefaultPBSClient is the proxmox-backup-client executable looked up on PATH.
const DefaultPBSClient = "proxmox-backup-client"

// PBSConfig configures the Proxmox Backup Server archiver.
type PBSConfig struct {
	ClientBin    string
	Repository   string
	Namespace    string
	PasswordFile string
	// GracePeriod is how long the client may run after SIGTERM before it is
	// killed. Zero kills it right away.
	GracePeriod time.Duration
}

// PBS archives units by invoking proxmox-backup-client once per run, with one
// pxar archive per unit.
type PBS struct {
	cfg    PBSConfig
	logger *slog.Logger
}

// NewPBS creates a PBS archiver.
func NewPBS(cfg PBSConfig, logger *slog.Logger) *PBS {
	if cfg.ClientBin == "" {
		cfg.ClientBin = DefaultPBSClient
	}
	return &PBS{cfg: cfg, logger: logger}
}

// Args returns the client arguments for units. The password is never part of
// the command line.
func (p *PBS) Args(units []backup.Unit) []string {
	args := make([]string, 0, len(units)+5)
	args = append(args, "backup")
	for _, u := range units {
		args = append(args, u.Name+".pxar:"+u.Path)
	}
	return append(args, "--repository", p.cfg.Repository, "--ns", p.cfg.Namespace)
}

// Archive implements backup.Archiver. Client output is logged line by line as
// it arrives. A non-zero exit status is returned as the exit code with a nil
// error; an error is returned only when the client cannot be started or ctx
// is cancelled.
func (p *PBS) Archive(ctx context.Context, units []backup.Unit) (int, error) {
	if len(units) == 0 {
		p.logger.Info("Nothing to archive, skipping proxmox-backup-client")
		return 0, nil
	}

	args := p.Args(units)
	cmd := exec.CommandContext(ctx, p.cfg.ClientBin, args...)
	cmd.Env = append(os.Environ(), "PBS_PASSWORD_FILE="+p.cfg.PasswordFile)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	// A zero WaitDelay would wait for the client to exit on its own.
	cmd.WaitDelay = max(p.cfg.GracePeriod, time.Nanosecond)

	stdout := newLineLogger(p.logger, "stdout")
	stderr := newLineLogger(p.logger, "stderr")
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	p.logger.Info("Starting proxmox-backup-client",
		"repository", p.cfg.Repository,
		"namespace", p.cfg.Namespace,
		"archives", len(units),
	)
	start := time.Now()

	if err := cmd.Start(); err != nil {
		if ctx.Err() != nil {
			return -1, ctx.Err()
		}
		return -1, fmt.Errorf("failed to start %s: %w", p.cfg.ClientBin, err)
	}

	waitErr := cmd.Wait()
	stdout.Flush()
	stderr.Flush()

	if ctx.Err() != nil {
		p.logger.Warn("proxmox-backup-client interrupted", "error", waitErr)
		return -1, ctx.Err()
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("proxmox-backup-client failed: %w", waitErr)
	}

	p.logger.Info("proxmox-backup-client finished", "duration", time.Since(start).Round(time.Millisecond))
	return 0, nil
}

// lineLogger is an io.Writer that logs each complete line written to it.
// Carriage returns end a line too, so progress output does not pile up.
type lineLogger struct {
	logger *slog.Logger
	stream string
	buf    []byte
}

func newLineLogger(logger *slog.Logger, stream string) *lineLogger {
	return &lineLogger{logger: logger, stream: stream}
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexAny(l.buf, "\r\n")
		if i < 0 {
			break
		}
		l.log(l.buf[:i])
		l.buf = l.buf[i+1:]
	}
	return len(p), nil
}

// Flush logs any trailing partial line.
func (l *lineLogger) Flush() {
	if len(l.buf) > 0 {
		l.log(l.buf)
		l.buf = nil
	}
}

func (l *lineLogger) log(line []byte) {
	if len(line) == 0 {
		return
	}
	l.logger.Info(string(line), "stream", l.stream)
}
