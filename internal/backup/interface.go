// Package backup implements one backup run: container classification, database
// dump extraction, volume resolution, staging and the archival hand-off.
package backup

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrListContainers is returned when the runtime cannot enumerate containers.
	ErrListContainers = errors.New("failed to list containers")

	// ErrNoDumpEntry is returned when a copied archive holds no regular file.
	ErrNoDumpEntry = errors.New("no file entry in container archive")
)

// Runtime is the container runtime port.
type Runtime interface {
	// ListContainers returns the running containers.
	ListContainers(ctx context.Context) ([]Container, error)

	// InspectContainer returns the runtime configuration of a container.
	InspectContainer(ctx context.Context, id string) (*ContainerDetails, error)

	// Exec runs a command inside a container and waits for it to exit.
	Exec(ctx context.Context, id string, cmd []string) (*ExecResult, error)

	// CopyFromContainer opens a single file from the container filesystem.
	CopyFromContainer(ctx context.Context, id, path string) (*CopyResult, error)
}

// Archiver ingests a set of named directories in a single invocation.
type Archiver interface {
	// Archive returns the exit code of the archival tool. A non-nil error means
	// the tool could not run to completion (start failure or cancellation).
	Archive(ctx context.Context, units []Unit) (int, error)
}

// Notifier reports run lifecycle events to an external monitor.
type Notifier interface {
	Run(ctx context.Context) error
	Complete(ctx context.Context, outcome *Outcome) error
	Fail(ctx context.Context, err error) error
}

// Container describes a running container.
type Container struct {
	ID     string
	Image  string
	Names  []string
	Labels map[string]string
}

// ContainerDetails holds the inspected runtime configuration of a container.
type ContainerDetails struct {
	ID         string
	Env        []string
	HostMounts []HostMount
	Mounts     []LiveMount
}

// HostMount is a mount declared in the container's host configuration.
type HostMount struct {
	Type          string
	Source        string
	Target        string
	Driver        string
	DriverOptions map[string]string
}

// LiveMount is a mount as resolved by the runtime for a running container.
type LiveMount struct {
	Type        string
	Name        string
	Source      string
	Destination string
	Driver      string
}

// ExecResult is the outcome of a command run inside a container.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// CopyResult is a file streamed out of a container.
type CopyResult struct {
	Reader io.ReadCloser
	Size   int64
	Name   string
}

// UnitKind tells where a unit's directory came from.
type UnitKind int

const (
	// KindDumpDirectory is the staging directory holding database dumps.
	KindDumpDirectory UnitKind = iota
	// KindVolume is a host directory backing a container volume.
	KindVolume
)

func (k UnitKind) String() string {
	switch k {
	case KindDumpDirectory:
		return "dump"
	case KindVolume:
		return "volume"
	default:
		return "unknown"
	}
}

// Unit is a named directory handed to the archiver.
type Unit struct {
	Name string
	Path string
	Kind UnitKind
}

// Outcome summarizes a completed run.
type Outcome struct {
	RunID          string
	ErrorCount     int
	UploadExitCode int
	Uploaded       bool
	Units          []Unit
	Duration       time.Duration
}

// Success reports whether every container and the upload succeeded.
func (o *Outcome) Success() bool {
	return o.ErrorCount == 0 && o.UploadExitCode == 0
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) Run(context.Context) error                { return nil }
func (NopNotifier) Complete(context.Context, *Outcome) error { return nil }
func (NopNotifier) Fail(context.Context, error) error        { return nil }
