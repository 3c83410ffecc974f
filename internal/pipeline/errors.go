package pipeline

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidExperimentID rejects experiment identifiers that are empty
	// or contain control characters.
	ErrInvalidExperimentID = errors.New("experiment id is invalid")

	// ErrNoArtifacts means the setup stage reported success but produced no
	// listable outputs within the polling budget.
	ErrNoArtifacts = errors.New("no artifacts produced")
)

// SubmissionError wraps a backend rejection of a job submission. Submission
// is never retried internally: a duplicate submission after an ambiguous
// failure could create a second job.
type SubmissionError struct {
	Stage Stage
	Cause error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit %s job: %v", e.Stage, e.Cause)
}

func (e *SubmissionError) Unwrap() error { return e.Cause }

// PollTimeoutError means the job stayed non-terminal for the whole polling
// budget. Distinct from the job failing.
type PollTimeoutError struct {
	Stage   Stage
	Job     string
	Elapsed time.Duration
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("%s job %s still not terminal after %s", e.Stage, e.Job, e.Elapsed)
}

// PollingUnavailableError means consecutive status/list queries kept
// failing; nothing is known about the job itself.
type PollingUnavailableError struct {
	Stage Stage
	Cause error
}

func (e *PollingUnavailableError) Error() string {
	return fmt.Sprintf("%s polling unavailable: %v", e.Stage, e.Cause)
}

func (e *PollingUnavailableError) Unwrap() error { return e.Cause }

// JobFailedError reports a stage's job reaching the failed state. The run
// is not resubmitted automatically; callers retry the whole run explicitly.
type JobFailedError struct {
	Stage  Stage
	Job    string
	Reason string
}

func (e *JobFailedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s job %s failed", e.Stage, e.Job)
	}
	return fmt.Sprintf("%s job %s failed: %s", e.Stage, e.Job, e.Reason)
}
