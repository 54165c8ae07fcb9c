package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/imedwei/docker-pbs-backup/internal/backup"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeScript creates an executable shell script standing in for proxmox-backup-client.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proxmox-backup-client")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

var testUnits = []backup.Unit{
	{Name: "dockerProxmoxBackup", Path: "/tmp/docker-pbs-backup-run", Kind: backup.KindDumpDirectory},
	{Name: "web_data", Path: "/mnt/var/lib/docker/volumes/web_data/_data", Kind: backup.KindVolume},
}

func TestPBS_Args(t *testing.T) {
	p := NewPBS(PBSConfig{Repository: "backup@pbs@pbs.lan:store", Namespace: "host1"}, discardLogger())

	got := p.Args(testUnits)
	want := []string{
		"backup",
		"dockerProxmoxBackup.pxar:/tmp/docker-pbs-backup-run",
		"web_data.pxar:/mnt/var/lib/docker/volumes/web_data/_data",
		"--repository", "backup@pbs@pbs.lan:store",
		"--ns", "host1",
	}
	if !slices.Equal(got, want) {
		t.Errorf("Args() = %v, want %v", got, want)
	}
}

func TestPBS_Archive_NoUnits(t *testing.T) {
	p := NewPBS(PBSConfig{ClientBin: filepath.Join(t.TempDir(), "missing")}, discardLogger())

	code, err := p.Archive(context.Background(), nil)
	if err != nil || code != 0 {
		t.Errorf("Archive(nil) = %v, %v, want 0, nil", code, err)
	}
}

func TestPBS_Archive(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	t.Setenv("ARGS_FILE", argsFile)

	script := writeScript(t, `printf '%s\n' "$@" "$PBS_PASSWORD_FILE" > "$ARGS_FILE"
echo "Starting backup"
printf 'upload progress' >&2`)

	var logs bytes.Buffer
	p := NewPBS(PBSConfig{
		ClientBin:    script,
		Repository:   "repo",
		Namespace:    "ns",
		PasswordFile: "/run/secrets/pbs",
		GracePeriod:  time.Second,
	}, slog.New(slog.NewTextHandler(&logs, nil)))

	code, err := p.Archive(context.Background(), testUnits)
	if err != nil || code != 0 {
		t.Fatalf("Archive() = %v, %v, want 0, nil", code, err)
	}

	raw, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	want := append(p.Args(testUnits), "/run/secrets/pbs")
	if !slices.Equal(lines, want) {
		t.Errorf("client saw %v, want %v", lines, want)
	}
	for _, arg := range lines[:len(lines)-1] {
		if strings.Contains(arg, "/run/secrets/pbs") {
			t.Errorf("password file leaked into arguments: %v", lines)
		}
	}

	out := logs.String()
	if !strings.Contains(out, "Starting backup") || !strings.Contains(out, "stream=stdout") {
		t.Errorf("stdout not logged:\n%s", out)
	}
	if !strings.Contains(out, "upload progress") || !strings.Contains(out, "stream=stderr") {
		t.Errorf("partial stderr line not flushed:\n%s", out)
	}
}

func TestPBS_Archive_NonZeroExit(t *testing.T) {
	script := writeScript(t, `echo "authentication failed" >&2
exit 3`)
	p := NewPBS(PBSConfig{ClientBin: script, GracePeriod: time.Second}, discardLogger())

	code, err := p.Archive(context.Background(), testUnits)
	if err != nil {
		t.Fatalf("Archive() error = %v, want nil", err)
	}
	if code != 3 {
		t.Errorf("Archive() exit code = %v, want 3", code)
	}
}

func TestPBS_Archive_StartFailure(t *testing.T) {
	p := NewPBS(PBSConfig{ClientBin: filepath.Join(t.TempDir(), "missing")}, discardLogger())

	code, err := p.Archive(context.Background(), testUnits)
	if err == nil {
		t.Fatal("Archive() expected error")
	}
	if code != -1 {
		t.Errorf("Archive() exit code = %v, want -1", code)
	}
}

func TestPBS_Archive_Cancelled(t *testing.T) {
	script := writeScript(t, `echo started
exec sleep 30`)
	p := NewPBS(PBSConfig{ClientBin: script, GracePeriod: 500 * time.Millisecond}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := p.Archive(ctx, testUnits)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Archive() error = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("Archive() took %v after cancellation", elapsed)
	}
}

func TestPBS_Archive_IgnoresSIGTERM(t *testing.T) {
	script := writeScript(t, `trap '' TERM
echo started
sleep 5`)

	for _, grace := range []time.Duration{0, 100 * time.Millisecond} {
		t.Run(grace.String(), func(t *testing.T) {
			p := NewPBS(PBSConfig{ClientBin: script, GracePeriod: grace}, discardLogger())

			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()

			start := time.Now()
			code, err := p.Archive(ctx, testUnits)
			if !errors.Is(err, context.DeadlineExceeded) {
				t.Errorf("Archive() error = %v, want context.DeadlineExceeded", err)
			}
			if code != -1 {
				t.Errorf("Archive() code = %d, want -1", code)
			}
			if elapsed := time.Since(start); elapsed > 3*time.Second {
				t.Errorf("Archive() took %v, client was not killed", elapsed)
			}
		})
	}
}

func TestLineLogger_CarriageReturns(t *testing.T) {
	var logs bytes.Buffer
	l := newLineLogger(slog.New(slog.NewTextHandler(&logs, nil)), "stderr")

	for _, pct := range []string{"10%", "50%", "100%"} {
		_, _ = l.Write([]byte(pct + "\r"))
	}
	if len(l.buf) != 0 {
		t.Errorf("buffer holds %q after carriage returns", l.buf)
	}

	out := logs.String()
	if n := strings.Count(out, "\n"); n != 3 {
		t.Errorf("logged %d records, want 3:\n%s", n, out)
	}
	if !strings.Contains(out, "msg=100%") {
		t.Errorf("missing final progress line in:\n%s", out)
	}
}

func TestLineLogger(t *testing.T) {
	var logs bytes.Buffer
	l := newLineLogger(slog.New(slog.NewTextHandler(&logs, nil)), "stdout")

	_, _ = l.Write([]byte("first li"))
	if logs.Len() != 0 {
		t.Fatalf("partial line logged early: %s", logs.String())
	}
	_, _ = l.Write([]byte("ne\r\nsecond\n\nthi"))
	l.Flush()

	out := logs.String()
	for _, want := range []string{`msg="first line"`, "msg=second", "msg=thi"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in:\n%s", want, out)
		}
	}
	if n := strings.Count(out, "\n"); n != 3 {
		t.Errorf("logged %d records, want 3:\n%s", n, out)
	}
}
