// Package version carries build information injected with -ldflags.
package version

var (
	// Version is the release version.
	Version = "dev"
	// Commit is the git commit SHA.
	Commit = "unknown"
	// BuildDate is the build timestamp.
	BuildDate = "unknown"
)

// Info returns formatted version information.
func Info() string {
	return Version + " (" + Commit + ", built " + BuildDate + ")"
}
