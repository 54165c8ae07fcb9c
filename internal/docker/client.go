// Package docker implements the backup runtime port on the Docker Engine API.
package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/imedwei/docker-pbs-backup/internal/backup"
)

// Client talks to the local Docker daemon. It is configured from the standard
// DOCKER_HOST, DOCKER_API_VERSION, DOCKER_CERT_PATH and DOCKER_TLS_VERIFY
// environment variables.
type Client struct {
	api    *client.Client
	logger *slog.Logger
}

// New creates a Docker client with API version negotiation.
func New(logger *slog.Logger) (*Client, error) {
	api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Client{api: api, logger: logger}, nil
}

// Close releases the client's connections.
func (c *Client) Close() error {
	return c.api.Close()
}

// Ping checks that the daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}
	return nil
}

// ListContainers implements backup.Runtime.ListContainers. Only running
// containers are returned.
func (c *Client) ListContainers(ctx context.Context) ([]backup.Container, error) {
	summaries, err := c.api.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, err
	}

	containers := make([]backup.Container, 0, len(summaries))
	for _, s := range summaries {
		containers = append(containers, toContainer(s))
	}
	return containers, nil
}

// InspectContainer implements backup.Runtime.InspectContainer.
func (c *Client) InspectContainer(ctx context.Context, id string) (*backup.ContainerDetails, error) {
	info, err := c.api.ContainerInspect(ctx, id)
	if err != nil {
		return nil, err
	}
	return toDetails(info), nil
}

// Exec implements backup.Runtime.Exec. Output is demultiplexed into stdout and
// stderr; the call returns once the command exits or ctx is done.
func (c *Client) Exec(ctx context.Context, id string, cmd []string) (*backup.ExecResult, error) {
	created, err := c.api.ContainerExecCreate(ctx, id, container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          cmd,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}
	c.logger.Debug("Running exec", "container_id", backup.ShortID(id), "exec_id", created.ID, "cmd", cmd)

	attach, err := c.api.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to exec: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		copied <- err
	}()

	select {
	case err := <-copied:
		if err != nil {
			return nil, fmt.Errorf("failed to read exec output: %w", err)
		}
	case <-ctx.Done():
		// Closing the hijacked connection unblocks StdCopy.
		attach.Close()
		<-copied
		return nil, ctx.Err()
	}

	inspect, err := c.api.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect exec: %w", err)
	}
	return execResult(inspect, stdout.String(), stderr.String())
}

// execResult fails when the exec is still running after its output closed;
// its exit code is not known yet and any file it writes may be partial.
func execResult(inspect container.ExecInspect, stdout, stderr string) (*backup.ExecResult, error) {
	if inspect.Running {
		return nil, fmt.Errorf("exec %s still running after its output closed", inspect.ExecID)
	}
	return &backup.ExecResult{
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: inspect.ExitCode,
	}, nil
}

// CopyFromContainer implements backup.Runtime.CopyFromContainer. The daemon
// streams a tar archive; the returned reader yields the first regular file in it.
func (c *Client) CopyFromContainer(ctx context.Context, id, path string) (*backup.CopyResult, error) {
	rc, stat, err := c.api.CopyFromContainer(ctx, id, path)
	if err != nil {
		return nil, err
	}

	f, hdr, err := firstFile(rc)
	if err != nil {
		_ = rc.Close()
		return nil, err
	}

	size := stat.Size
	if hdr.Size > 0 {
		size = hdr.Size
	}
	return &backup.CopyResult{
		Reader: f,
		Size:   size,
		Name:   stat.Name,
	}, nil
}

// tarFile reads one tar entry and closes the underlying archive stream.
type tarFile struct {
	io.Reader
	closer io.Closer
}

func (t *tarFile) Close() error {
	return t.closer.Close()
}

// firstFile advances the archive to its first regular file.
func firstFile(rc io.ReadCloser) (io.ReadCloser, *tar.Header, error) {
	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, nil, backup.ErrNoDumpEntry
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read container archive: %w", err)
		}
		if hdr.Typeflag == tar.TypeReg {
			return &tarFile{Reader: tr, closer: rc}, hdr, nil
		}
	}
}

func toContainer(s container.Summary) backup.Container {
	return backup.Container{
		ID:     s.ID,
		Image:  s.Image,
		Names:  s.Names,
		Labels: s.Labels,
	}
}

func toDetails(info container.InspectResponse) *backup.ContainerDetails {
	d := &backup.ContainerDetails{}

	if info.ContainerJSONBase != nil {
		d.ID = info.ID
		if info.HostConfig != nil {
			for _, m := range info.HostConfig.Mounts {
				d.HostMounts = append(d.HostMounts, toHostMount(m))
			}
		}
	}
	if info.Config != nil {
		d.Env = info.Config.Env
	}
	for _, m := range info.Mounts {
		d.Mounts = append(d.Mounts, backup.LiveMount{
			Type:        string(m.Type),
			Name:        m.Name,
			Source:      m.Source,
			Destination: m.Destination,
			Driver:      m.Driver,
		})
	}
	return d
}

func toHostMount(m mount.Mount) backup.HostMount {
	hm := backup.HostMount{
		Type:   string(m.Type),
		Source: m.Source,
		Target: m.Target,
	}
	if m.VolumeOptions != nil && m.VolumeOptions.DriverConfig != nil {
		hm.Driver = m.VolumeOptions.DriverConfig.Name
		hm.DriverOptions = m.VolumeOptions.DriverConfig.Options
	}
	return hm
}
