package backup

import (
	"strings"

	"github.com/spf13/cast"
)

// Container labels understood by the classifier and naming resolver.
const (
	LabelName         = "backup.name"
	LabelSwarmService = "com.docker.swarm.service.name"
	LabelEnable       = "backup.enable"
	LabelSelf         = "backup.self"
	LabelStrategy     = "backup.strategy"
	LabelPostgresUser = "backup.postgres_user"
)

// Strategy is the backup method chosen for a container.
type Strategy int

const (
	// StrategyVolumeCopy backs up the container's local volumes.
	StrategyVolumeCopy Strategy = iota
	// StrategyDatabaseDump takes a logical dump inside the container.
	StrategyDatabaseDump
	// StrategySkip excludes the container from the run.
	StrategySkip
)

func (s Strategy) String() string {
	switch s {
	case StrategyVolumeCopy:
		return "volume"
	case StrategyDatabaseDump:
		return "dump"
	case StrategySkip:
		return "skip"
	default:
		return "unknown"
	}
}

// DefaultDatabaseMarkers are the image substrings that select a database dump.
var DefaultDatabaseMarkers = []string{"postgres", "pgvecto-rs"}

// Marker maps an image substring to a strategy.
type Marker struct {
	Substring string
	Strategy  Strategy
}

// Classifier assigns exactly one strategy to every container.
type Classifier struct {
	markers []Marker
}

// NewClassifier builds a classifier whose marker table sends the given image
// substrings to StrategyDatabaseDump. Empty markers are ignored.
func NewClassifier(databaseMarkers []string) *Classifier {
	c := &Classifier{}
	for _, m := range databaseMarkers {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		c.markers = append(c.markers, Marker{Substring: m, Strategy: StrategyDatabaseDump})
	}
	return c
}

// Classify returns the strategy for a container. Labels take precedence over the
// marker table; images matching no marker get StrategyVolumeCopy.
func (c *Classifier) Classify(ct Container) Strategy {
	if isTrue(ct.Labels[LabelSelf]) {
		return StrategySkip
	}
	if v := strings.TrimSpace(ct.Labels[LabelEnable]); v != "" {
		if enabled, err := cast.ToBoolE(v); err == nil && !enabled {
			return StrategySkip
		}
	}
	if s, ok := parseStrategy(ct.Labels[LabelStrategy]); ok {
		return s
	}

	for _, m := range c.markers {
		if strings.Contains(ct.Image, m.Substring) {
			return m.Strategy
		}
	}
	return StrategyVolumeCopy
}

func parseStrategy(v string) (Strategy, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "dump", "database":
		return StrategyDatabaseDump, true
	case "volume", "volumes":
		return StrategyVolumeCopy, true
	case "skip", "none":
		return StrategySkip, true
	default:
		return 0, false
	}
}

func isTrue(v string) bool {
	b, err := cast.ToBoolE(v)
	return err == nil && b
}
