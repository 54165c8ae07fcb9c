package utils

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// runTimestampLayout uses dashes instead of colons so keys are safe on every
// filesystem and object store. Milliseconds are appended separately.
const runTimestampLayout = "2006-01-02T15-04-05"

// FormatRunTimestamp renders t as 2006-01-02T15-04-05-000Z in UTC.
func FormatRunTimestamp(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s-%03dZ", t.Format(runTimestampLayout), t.Nanosecond()/int(time.Millisecond))
}

// RunPrefix returns the object key prefix for a run: <namespace>/<timestamp>.
func RunPrefix(namespace string, t time.Time) string {
	namespace = strings.Trim(namespace, "/")
	if namespace == "" {
		return FormatRunTimestamp(t)
	}
	return path.Join(namespace, FormatRunTimestamp(t))
}

// ObjectKey returns the key of a unit archive within a run prefix.
func ObjectKey(prefix, unitName, ext string) string {
	return path.Join(prefix, unitName+ext)
}
