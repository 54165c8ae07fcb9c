package backup

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PGVersion is a PostgreSQL client tool version as reported inside a container.
type PGVersion struct {
	Major int
	Minor int
	Full  string
}

func (v *PGVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Matches "pg_dumpall (PostgreSQL) 16.2", "PostgreSQL 14.11" and "(PostgreSQL) 17beta1".
var pgVersionPattern = regexp.MustCompile(`PostgreSQL\)? (\d+)(?:\.(\d+))?`)

// ParsePGVersion parses the output of a PostgreSQL tool's --version flag.
func ParsePGVersion(versionStr string) (*PGVersion, error) {
	versionStr = strings.TrimSpace(versionStr)
	matches := pgVersionPattern.FindStringSubmatch(versionStr)
	if len(matches) < 2 {
		return nil, fmt.Errorf("could not parse PostgreSQL version from: %q", versionStr)
	}

	major, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid major version: %s", matches[1])
	}

	var minor int
	if matches[2] != "" {
		if minor, err = strconv.Atoi(matches[2]); err != nil {
			return nil, fmt.Errorf("invalid minor version: %s", matches[2])
		}
	}

	return &PGVersion{
		Major: major,
		Minor: minor,
		Full:  versionStr,
	}, nil
}

// probeVersion asks the container's pg_dumpall for its version. Failures are
// not fatal to the dump; callers log and continue.
func probeVersion(ctx context.Context, runtime Runtime, containerID string) (*PGVersion, error) {
	res, err := runtime.Exec(ctx, containerID, []string{"pg_dumpall", "--version"})
	if err != nil {
		return nil, fmt.Errorf("failed to query pg_dumpall version: %w", err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("pg_dumpall --version exited with code %d", res.ExitCode)
	}
	return ParsePGVersion(res.Stdout)
}
