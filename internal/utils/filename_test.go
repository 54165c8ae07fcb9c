package utils

import (
	"strings"
	"testing"
	"time"
)

func TestFormatRunTimestamp(t *testing.T) {
	ts := time.Date(2025, 1, 21, 10, 30, 45, 123000000, time.UTC)
	if got, want := FormatRunTimestamp(ts), "2025-01-21T10-30-45-123Z"; got != want {
		t.Errorf("FormatRunTimestamp() = %v, want %v", got, want)
	}

	local := ts.In(time.FixedZone("CET", 3600))
	if got, want := FormatRunTimestamp(local), "2025-01-21T10-30-45-123Z"; got != want {
		t.Errorf("FormatRunTimestamp() with zone = %v, want %v", got, want)
	}
}

func TestRunPrefix(t *testing.T) {
	ts := time.Date(2025, 1, 21, 10, 30, 45, 0, time.UTC)

	tests := []struct {
		name      string
		namespace string
		want      string
	}{
		{name: "namespace", namespace: "docker", want: "docker/2025-01-21T10-30-45-000Z"},
		{name: "nested namespace", namespace: "hosts/web01/", want: "hosts/web01/2025-01-21T10-30-45-000Z"},
		{name: "empty namespace", namespace: "", want: "2025-01-21T10-30-45-000Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RunPrefix(tt.namespace, ts); got != tt.want {
				t.Errorf("RunPrefix() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunPrefix_NoColons(t *testing.T) {
	if prefix := RunPrefix("docker", time.Now()); strings.Contains(prefix, ":") {
		t.Errorf("prefix should not contain colons, got: %s", prefix)
	}
}

func TestObjectKey(t *testing.T) {
	if got, want := ObjectKey("docker/2025-01-21T10-30-45-000Z", "web_data", ".tar.zst"), "docker/2025-01-21T10-30-45-000Z/web_data.tar.zst"; got != want {
		t.Errorf("ObjectKey() = %v, want %v", got, want)
	}
}
