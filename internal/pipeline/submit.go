package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/cascade-labs/cascade-go/internal/backend"
	"github.com/cascade-labs/cascade-go/internal/metrics"
)

// Environment bindings every task receives. The fan-out task additionally
// learns its slot from the backend's completion index; the collect task
// learns the discovered width from EnvTaskCount.
const (
	EnvMode          = "CASCADE_MODE"
	EnvRunID         = "CASCADE_RUN_ID"
	EnvExperiment    = "CASCADE_EXPERIMENT"
	EnvSetupPrefix   = "CASCADE_SETUP_PREFIX"
	EnvFanoutPrefix  = "CASCADE_FANOUT_PREFIX"
	EnvCollectPrefix = "CASCADE_COLLECT_PREFIX"
	EnvTaskCount     = "CASCADE_TASK_COUNT"
)

// Labels every submitted job carries, sufficient to reconstruct
// (experiment, run, stage) from backend metadata alone.
const (
	LabelRunID      = "cascade.io/run-id"
	LabelExperiment = "cascade.io/experiment"
	LabelStage      = "cascade.io/stage"
)

// Submitter builds job requests and hands them to the execution backend.
// It submits exactly once per call: submission is not idempotent, so
// retries belong to the caller's explicit run-retry path.
type Submitter struct {
	jobs backend.Jobs
}

func NewSubmitter(jobs backend.Jobs) *Submitter {
	return &Submitter{jobs: jobs}
}

func (s *Submitter) Submit(ctx context.Context, run RunParameters, spec StageSpec) (backend.JobHandle, error) {
	req := BuildJobRequest(run, spec)
	handle, err := s.jobs.Submit(ctx, req)
	if err != nil {
		return backend.JobHandle{}, &SubmissionError{Stage: spec.Stage, Cause: err}
	}
	metrics.JobsSubmitted.WithLabelValues(string(spec.Stage)).Inc()
	return handle, nil
}

// BuildJobRequest derives the job specification deterministically from the
// run parameters and stage spec. Only the job name carries a random suffix,
// so a retried run never collides with the jobs of its failed predecessor.
func BuildJobRequest(run RunParameters, spec StageSpec) backend.JobRequest {
	return backend.JobRequest{
		Name:          jobName(run.RunID, spec.Stage),
		TaskCount:     spec.TaskCount,
		Parallelism:   spec.Parallelism,
		CPU:           spec.Resources.CPU,
		Memory:        spec.Resources.Memory,
		MachineClass:  spec.Resources.MachineClass,
		BootDiskClass: spec.Resources.BootDiskClass,
		MaxDuration:   spec.Resources.MaxDuration,
		Env:           StageEnv(run, spec),
		Labels:        StageLabels(run, spec.Stage),
	}
}

// StageEnv is the ordered environment binding set for one stage's tasks.
func StageEnv(run RunParameters, spec StageSpec) []backend.EnvVar {
	env := []backend.EnvVar{
		{Name: EnvMode, Value: string(spec.Stage)},
		{Name: EnvRunID, Value: run.RunID},
		{Name: EnvExperiment, Value: run.ExperimentID},
		{Name: EnvSetupPrefix, Value: run.Prefixes[StageSetup]},
		{Name: EnvFanoutPrefix, Value: run.Prefixes[StageFanout]},
		{Name: EnvCollectPrefix, Value: run.Prefixes[StageCollect]},
	}
	if spec.Stage == StageCollect {
		env = append(env, backend.EnvVar{Name: EnvTaskCount, Value: strconv.Itoa(spec.FanoutWidth)})
	}
	return env
}

func StageLabels(run RunParameters, stage Stage) map[string]string {
	return map[string]string{
		LabelRunID:      run.RunID,
		LabelExperiment: sanitizeLabelValue(run.ExperimentID),
		LabelStage:      string(stage),
	}
}

func jobName(runID string, stage Stage) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:5]
	name := fmt.Sprintf("cascade-%s-%s-%s", sanitizeLabelValue(runID), stage, suffix)
	if len(name) > 63 {
		name = name[:63]
	}
	return strings.Trim(name, "-")
}

// sanitizeLabelValue maps an experiment id (which may contain path
// separators) to a label-safe form. Env bindings carry the exact id; only
// labels use the sanitized one.
func sanitizeLabelValue(v string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(v) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-_.")
	if len(out) > 63 {
		out = strings.Trim(out[:63], "-_.")
	}
	return out
}
