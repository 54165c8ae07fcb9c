package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the name of the run manifest inside the staging directory.
const ManifestFile = "manifest.yml"

const manifestVersion = 1

// Manifest lists the dumps archived with a run.
type Manifest struct {
	Version  int          `yaml:"version"`
	RunID    string       `yaml:"run_id"`
	Hostname string       `yaml:"hostname,omitempty"`
	Date     time.Time    `yaml:"date"`
	Dumps    []DumpRecord `yaml:"dumps"`
}

// NewManifest creates a manifest for the given run.
func NewManifest(runID string, date time.Time, dumps []DumpRecord) *Manifest {
	hostname, _ := os.Hostname()
	return &Manifest{
		Version:  manifestVersion,
		RunID:    runID,
		Hostname: hostname,
		Date:     date.UTC(),
		Dumps:    dumps,
	}
}

// Write stores the manifest in dir.
func (m *Manifest) Write(dir string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o600); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads a manifest from dir.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}
