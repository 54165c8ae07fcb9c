package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/imedwei/docker-pbs-backup/internal/archive"
	"github.com/imedwei/docker-pbs-backup/internal/config"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		format    string
		wantDebug bool
		wantJSON  bool
	}{
		{name: "text info", level: "info", format: "text"},
		{name: "json debug", level: "debug", format: "json", wantDebug: true, wantJSON: true},
		{name: "unknown level falls back to info", level: "loud", format: "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newLogger(&buf, tt.level, tt.format)

			logger.Debug("debug line")
			logger.Info("info line")

			out := buf.String()
			if got := strings.Contains(out, "debug line"); got != tt.wantDebug {
				t.Errorf("debug logged = %v, want %v:\n%s", got, tt.wantDebug, out)
			}
			first := strings.SplitN(out, "\n", 2)[0]
			if got := json.Valid([]byte(first)); got != tt.wantJSON {
				t.Errorf("json output = %v, want %v: %s", got, tt.wantJSON, first)
			}
		})
	}
}

func TestNewArchiver_PBS(t *testing.T) {
	cfg := &config.Config{
		ArchiveBackend:  config.BackendPBS,
		PBSClientBin:    "proxmox-backup-client",
		PBSRepository:   "repo",
		PBSNamespace:    "ns",
		PBSPasswordFile: "/run/secrets/pbs",
	}

	a, closeFn, err := newArchiver(context.Background(), cfg, newLogger(&bytes.Buffer{}, "info", "text"))
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()

	if _, ok := a.(*archive.PBS); !ok {
		t.Errorf("newArchiver() = %T, want *archive.PBS", a)
	}
}
