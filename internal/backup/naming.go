package backup

import (
	"regexp"
	"strings"
)

const shortIDLength = 12

// ResolveName returns the backup name of a single container.
//
// Precedence: backup.name label, swarm service name label, first container name,
// container ID. Slashes are removed and any other character outside
// [A-Za-z0-9._-] becomes '-', so the name is safe as a file and archive name.
func ResolveName(c Container) string {
	for _, candidate := range []string{c.Labels[LabelName], c.Labels[LabelSwarmService]} {
		if name := sanitizeName(candidate); name != "" {
			return name
		}
	}
	if len(c.Names) > 0 {
		if name := sanitizeName(c.Names[0]); name != "" {
			return name
		}
	}
	return sanitizeName(c.ID)
}

// ResolveNames resolves names for all containers of a run, keyed by container ID.
// Names shared by several containers get a short container ID suffix.
func ResolveNames(containers []Container) map[string]string {
	names := make(map[string]string, len(containers))
	counts := make(map[string]int, len(containers))
	for _, c := range containers {
		name := ResolveName(c)
		names[c.ID] = name
		counts[name]++
	}

	for _, c := range containers {
		if name := names[c.ID]; counts[name] > 1 {
			names[c.ID] = name + "-" + ShortID(c.ID)
		}
	}
	return names
}

// ShortID returns the abbreviated form of a container ID.
func ShortID(id string) string {
	if len(id) > shortIDLength {
		return id[:shortIDLength]
	}
	return id
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func sanitizeName(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "/", ""))
	return unsafeNameChars.ReplaceAllString(s, "-")
}

// ownedUnits are the units resolved for one container.
type ownedUnits struct {
	ContainerID string
	Units       []Unit
}

// uniqueUnits flattens groups into a list with distinct unit names. A name
// produced by more than one container, or equal to reserved, gets the owning
// container's short ID as a suffix. Units whose name is still taken after that
// are returned as dropped.
func uniqueUnits(reserved string, groups []ownedUnits) (units, dropped []Unit) {
	counts := make(map[string]int)
	for _, g := range groups {
		for _, u := range g.Units {
			counts[u.Name]++
		}
	}

	used := map[string]bool{reserved: true}
	for _, g := range groups {
		for _, u := range g.Units {
			if counts[u.Name] > 1 || u.Name == reserved {
				u.Name += "-" + ShortID(g.ContainerID)
			}
			if used[u.Name] {
				dropped = append(dropped, u)
				continue
			}
			used[u.Name] = true
			units = append(units, u)
		}
	}
	return units, dropped
}
