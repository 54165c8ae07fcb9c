package backup

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
)

const (
	mountTypeVolume   = "volume"
	localVolumeDriver = "local"
	// Remote and plugin-backed local volumes carry a "type" driver option
	// (nfs, cifs, ...). Their data does not live under the host volume root.
	remoteDriverOption = "type"
)

// VolumeResolver maps a container's local volumes to host directories.
type VolumeResolver struct {
	runtime  Runtime
	hostRoot string
	logger   *slog.Logger
}

// NewVolumeResolver creates a resolver that prefixes volume sources with hostRoot,
// the directory where the host filesystem is mounted into this service.
func NewVolumeResolver(runtime Runtime, hostRoot string, logger *slog.Logger) *VolumeResolver {
	return &VolumeResolver{
		runtime:  runtime,
		hostRoot: hostRoot,
		logger:   logger,
	}
}

// Resolve inspects the container and returns one unit per eligible volume.
func (v *VolumeResolver) Resolve(ctx context.Context, c Container, name string) ([]Unit, error) {
	details, err := v.runtime.InspectContainer(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}
	return v.units(details, name, v.logger.With("container_id", ShortID(c.ID), "name", name)), nil
}

func (v *VolumeResolver) units(details *ContainerDetails, name string, logger *slog.Logger) []Unit {
	var units []Unit
	seen := make(map[string]bool)

	for _, hm := range details.HostMounts {
		if !eligibleMount(hm) {
			logger.Debug("Skipping mount", "type", hm.Type, "source", hm.Source, "driver", hm.Driver)
			continue
		}
		if seen[hm.Source] {
			continue
		}
		seen[hm.Source] = true

		live, ok := findLiveMount(details.Mounts, hm.Source)
		if !ok {
			logger.Warn("Volume declared but not mounted, skipping", "volume", hm.Source)
			continue
		}

		unit := Unit{
			Name: name + "_" + sanitizeName(hm.Source),
			Path: filepath.Join(v.hostRoot, live.Source),
			Kind: KindVolume,
		}
		logger.Debug("Found volume", "volume", hm.Source, "unit", unit.Name, "path", unit.Path)
		units = append(units, unit)
	}
	return units
}

func eligibleMount(hm HostMount) bool {
	if hm.Type != mountTypeVolume || hm.Source == "" {
		return false
	}
	if hm.Driver != "" && hm.Driver != localVolumeDriver {
		return false
	}
	if _, remote := hm.DriverOptions[remoteDriverOption]; remote {
		return false
	}
	return true
}

func findLiveMount(mounts []LiveMount, volume string) (LiveMount, bool) {
	for _, m := range mounts {
		if m.Name == volume {
			return m, true
		}
	}
	return LiveMount{}, false
}
