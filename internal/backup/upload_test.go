package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestUploadCoordinator_Units(t *testing.T) {
	volumes := []Unit{{Name: "web_data", Path: "/mnt/data", Kind: KindVolume}}
	u := NewUploadCoordinator(&fakeArchiver{}, "", discardLogger())

	t.Run("staging never created", func(t *testing.T) {
		staging := NewStagingArea(t.TempDir(), "run")
		units, err := u.Units(staging, volumes)
		if err != nil {
			t.Fatal(err)
		}
		if len(units) != 1 || units[0].Kind != KindVolume {
			t.Errorf("Units() = %+v, want volumes only", units)
		}
	})

	t.Run("staging created but empty", func(t *testing.T) {
		staging := NewStagingArea(t.TempDir(), "run")
		if _, err := staging.Ensure(); err != nil {
			t.Fatal(err)
		}
		units, err := u.Units(staging, volumes)
		if err != nil {
			t.Fatal(err)
		}
		if len(units) != 1 || units[0].Kind != KindVolume {
			t.Errorf("Units() = %+v, want volumes only", units)
		}
	})

	t.Run("staging with dumps", func(t *testing.T) {
		staging := NewStagingArea(t.TempDir(), "run")
		dir, err := staging.Ensure()
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "db.dump"), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}

		units, err := u.Units(staging, volumes)
		if err != nil {
			t.Fatal(err)
		}
		if len(units) != 2 {
			t.Fatalf("Units() = %+v, want 2 units", units)
		}
		want := Unit{Name: DefaultDumpUnitName, Path: staging.Path(), Kind: KindDumpDirectory}
		if units[0] != want {
			t.Errorf("Units()[0] = %+v, want %+v", units[0], want)
		}
	})
}

func TestUploadCoordinator_Upload(t *testing.T) {
	tests := []struct {
		name         string
		archiver     *fakeArchiver
		wantExitCode int
		wantErr      bool
	}{
		{
			name:         "success",
			archiver:     &fakeArchiver{},
			wantExitCode: 0,
		},
		{
			name:         "non-zero exit is not an error",
			archiver:     &fakeArchiver{exitCode: 255},
			wantExitCode: 255,
		},
		{
			name:         "start failure maps to exit code",
			archiver:     &fakeArchiver{err: errors.New("executable file not found")},
			wantExitCode: -1,
		},
		{
			name:     "cancellation is returned",
			archiver: &fakeArchiver{exitCode: -1, err: fmt.Errorf("signal: terminated: %w", context.Canceled)},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := NewUploadCoordinator(tt.archiver, "", discardLogger())

			code, err := u.Upload(context.Background(), nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Upload() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, context.Canceled) {
					t.Errorf("Upload() error = %v, want context.Canceled", err)
				}
				return
			}
			if code != tt.wantExitCode {
				t.Errorf("Upload() exit code = %v, want %v", code, tt.wantExitCode)
			}
			if len(tt.archiver.calls) != 1 {
				t.Errorf("archiver called %d times, want 1", len(tt.archiver.calls))
			}
		})
	}
}
