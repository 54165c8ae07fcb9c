package backup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManifest_Write(t *testing.T) {
	dir := t.TempDir()
	date := time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC)

	m := NewManifest("run-1", date, []DumpRecord{{
		ContainerID: "0123456789abcdef",
		Name:        "db",
		Image:       "postgres:16",
		User:        "postgres",
		File:        "db.dump",
		Size:        42,
		Version:     "16.2",
	}})
	if err := m.Write(dir); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"run_id: run-1", "file: db.dump", "pg_version: \"16.2\""} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("manifest missing %q:\n%s", want, raw)
		}
	}

	got, err := ReadManifest(dir)
	if err != nil {
		t.Fatalf("ReadManifest() error = %v", err)
	}
	if got.Version != manifestVersion || !got.Date.Equal(date) || len(got.Dumps) != 1 || got.Dumps[0].Size != 42 {
		t.Errorf("ReadManifest() = %+v", got)
	}
}
