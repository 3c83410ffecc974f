package pipeline

import (
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Overrides are the caller-supplied knobs for one run. Zero values fall
// back to the profile.
type Overrides struct {
	RunID          string
	MaxParallelism int
	TasksPerNode   int
	SkipCollect    bool
	Resources      map[Stage]ResourceShape
}

// RunParameters is the immutable parameter set for one run. Built once by
// NewRun, read-only afterwards.
type RunParameters struct {
	RunID          string
	ExperimentID   string
	MaxParallelism int
	TasksPerNode   int
	SkipCollect    bool
	Resources      map[Stage]ResourceShape
	Prefixes       map[Stage]string
}

// NewRun validates the experiment id, derives the run id and storage
// layout, and resolves per-stage resources. No I/O happens here.
func NewRun(experimentID string, profile Profile, ov Overrides) (RunParameters, error) {
	experimentID = strings.TrimSpace(experimentID)
	if err := validateExperimentID(experimentID); err != nil {
		return RunParameters{}, err
	}

	runID := strings.TrimSpace(ov.RunID)
	if runID == "" {
		runID = newRunID(time.Now().UTC())
	}

	maxParallelism := ov.MaxParallelism
	if maxParallelism < 1 {
		maxParallelism = profile.MaxParallelism
	}
	if maxParallelism < 1 {
		maxParallelism = 1
	}
	tasksPerNode := ov.TasksPerNode
	if tasksPerNode < 1 {
		tasksPerNode = profile.TasksPerNode
	}
	if tasksPerNode < 1 {
		tasksPerNode = 1
	}

	resources := make(map[Stage]ResourceShape, len(Stages()))
	prefixes := make(map[Stage]string, len(Stages()))
	for _, stage := range Stages() {
		shape := MergeResources(profile.ResourceDefaults(stage), ov.Resources[stage])
		resources[stage] = ApplyBootDiskRule(shape)
		prefixes[stage] = path.Join("runs", experimentID, runID, string(stage)) + "/"
	}

	return RunParameters{
		RunID:          runID,
		ExperimentID:   experimentID,
		MaxParallelism: maxParallelism,
		TasksPerNode:   tasksPerNode,
		SkipCollect:    ov.SkipCollect,
		Resources:      resources,
		Prefixes:       prefixes,
	}, nil
}

func validateExperimentID(experimentID string) error {
	if experimentID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidExperimentID)
	}
	for _, r := range experimentID {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: contains control character", ErrInvalidExperimentID)
		}
	}
	return nil
}

// newRunID formats run ids so a lexicographic listing sorts by creation
// time: <date>-<time>-<random8>.
func newRunID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%s", now.Format("20060102-150405"), suffix)
}
