package container

import (
	"fmt"

	"github.com/google/uuid"
)

// Label keys set on every container started by super-ci.
const (
	LabelProject      = "super-release.project"
	LabelRunID        = "super-release.run_id"
	LabelAction       = "super-release.action"
	LabelDistribution = "super-release.distribution"
	LabelBuildDir     = "super-release.build_dir"
)

// shortIDLength is how much of the run ID goes into container names.
const shortIDLength = 8

// BuildLabels creates the label set for one build container.
// distribution may be empty for actions that are not distribution builds.
func BuildLabels(runID, action, distribution, buildDir string) map[string]string {
	labels := map[string]string{
		LabelProject:  "true",
		LabelRunID:    runID,
		LabelAction:   action,
		LabelBuildDir: buildDir,
	}

	if distribution != "" {
		labels[LabelDistribution] = distribution
	}

	return labels
}

// GenerateRunID creates a new run ID. Each super-ci invocation gets one.
func GenerateRunID() string {
	return uuid.New().String()
}

// Name returns the container name for a distribution build of a run.
func Name(runID, distribution string) string {
	short := runID
	if len(short) > shortIDLength {
		short = short[:shortIDLength]
	}

	return fmt.Sprintf("super-release-%s-%s", distribution, short)
}
