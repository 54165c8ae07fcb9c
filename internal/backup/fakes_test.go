package backup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/imedwei/docker-pbs-backup/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		ArchiveBackend:       config.BackendPBS,
		ArchiveDumpName:      DefaultDumpUnitName,
		HostMountRoot:        "/mnt",
		StagingRoot:          t.TempDir(),
		DatabaseImageMarkers: DefaultDatabaseMarkers,
		DumpPath:             DefaultDumpPath,
		DumpCleanup:          true,
		Concurrency:          1,
	}
}

// fakeRuntime is an in-memory Runtime.
type fakeRuntime struct {
	mu sync.Mutex

	containers []Container
	listErr    error
	details    map[string]*ContainerDetails
	inspectErr map[string]error
	dumps      map[string]string
	copyErr    map[string]error
	execFunc   func(id string, cmd []string) (*ExecResult, error)

	execCalls map[string][][]string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		details:    make(map[string]*ContainerDetails),
		inspectErr: make(map[string]error),
		dumps:      make(map[string]string),
		copyErr:    make(map[string]error),
		execCalls:  make(map[string][][]string),
	}
}

func (f *fakeRuntime) ListContainers(ctx context.Context) ([]Container, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.containers, f.listErr
}

func (f *fakeRuntime) InspectContainer(ctx context.Context, id string) (*ContainerDetails, error) {
	if err := f.inspectErr[id]; err != nil {
		return nil, err
	}
	if d, ok := f.details[id]; ok {
		return d, nil
	}
	return &ContainerDetails{ID: id}, nil
}

func (f *fakeRuntime) Exec(ctx context.Context, id string, cmd []string) (*ExecResult, error) {
	f.mu.Lock()
	f.execCalls[id] = append(f.execCalls[id], cmd)
	f.mu.Unlock()

	if f.execFunc != nil {
		return f.execFunc(id, cmd)
	}
	if len(cmd) == 2 && cmd[1] == "--version" {
		return &ExecResult{Stdout: "pg_dumpall (PostgreSQL) 16.2\n"}, nil
	}
	return &ExecResult{}, nil
}

func (f *fakeRuntime) CopyFromContainer(ctx context.Context, id, path string) (*CopyResult, error) {
	if err := f.copyErr[id]; err != nil {
		return nil, err
	}
	content, ok := f.dumps[id]
	if !ok {
		return nil, errors.New("no such file: " + path)
	}
	return &CopyResult{
		Reader: io.NopCloser(strings.NewReader(content)),
		Size:   int64(len(content)),
		Name:   filepath.Base(path),
	}, nil
}

func (f *fakeRuntime) commands(id string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.execCalls[id]
}

// archiveCall captures the units of one Archive call and the files present in
// each unit directory at that moment.
type archiveCall struct {
	units []Unit
	files map[string][]string
}

type fakeArchiver struct {
	mu       sync.Mutex
	calls    []archiveCall
	exitCode int
	err      error
}

func (a *fakeArchiver) Archive(ctx context.Context, units []Unit) (int, error) {
	call := archiveCall{
		units: append([]Unit(nil), units...),
		files: make(map[string][]string),
	}
	for _, u := range units {
		entries, err := os.ReadDir(u.Path)
		if err != nil {
			continue
		}
		for _, e := range entries {
			call.files[u.Name] = append(call.files[u.Name], e.Name())
		}
	}

	a.mu.Lock()
	a.calls = append(a.calls, call)
	a.mu.Unlock()

	if a.err != nil {
		return a.exitCode, a.err
	}
	return a.exitCode, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	events   []string
	outcome  *Outcome
	failErr  error
	notifErr error
}

func (n *fakeNotifier) record(event string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *fakeNotifier) Run(ctx context.Context) error {
	n.record("run")
	return n.notifErr
}

func (n *fakeNotifier) Complete(ctx context.Context, outcome *Outcome) error {
	n.record("complete")
	n.outcome = outcome
	return n.notifErr
}

func (n *fakeNotifier) Fail(ctx context.Context, err error) error {
	n.record("fail")
	n.failErr = err
	return n.notifErr
}
