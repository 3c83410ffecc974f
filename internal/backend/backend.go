// Package backend defines the contracts the orchestrator consumes from its
// two external collaborators: the job-execution backend and the blob storage
// backend. The pipeline core depends only on these interfaces.
package backend

import (
	"context"
	"time"
)

// Phase is the terminal/non-terminal status a job reports.
type Phase string

const (
	PhaseQueued    Phase = "queued"
	PhaseRunning   Phase = "running"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
	PhaseCancelled Phase = "cancelled"
)

func (p Phase) Terminal() bool {
	switch p {
	case PhaseSucceeded, PhaseFailed, PhaseCancelled:
		return true
	default:
		return false
	}
}

// JobStatus is one observation of a submitted job. Reason is set only for
// failed jobs.
type JobStatus struct {
	Phase  Phase
	Reason string
}

// JobHandle identifies a submitted job. Name doubles as the display name
// surfaced to callers for out-of-band inspection.
type JobHandle struct {
	Name string
	UID  string
}

type EnvVar struct {
	Name  string
	Value string
}

// JobRequest is a fully resolved job specification. TaskCount > 1 requests
// an indexed task array; Parallelism caps how many tasks run at once.
type JobRequest struct {
	Name          string
	TaskCount     int
	Parallelism   int
	CPU           string
	Memory        string
	MachineClass  string
	BootDiskClass string
	MaxDuration   time.Duration
	Env           []EnvVar
	Labels        map[string]string
}

// Jobs is the job-execution backend contract. Submit must not retry
// internally; a rejected or ambiguous submission surfaces to the caller.
// Status errors are transport errors, distinct from the job itself failing.
type Jobs interface {
	Submit(ctx context.Context, req JobRequest) (JobHandle, error)
	Status(ctx context.Context, handle JobHandle) (JobStatus, error)
	Cancel(ctx context.Context, handle JobHandle) error
}

// ArtifactLister is the blob storage backend contract: count objects under
// a prefix at a point in time.
type ArtifactLister interface {
	Count(ctx context.Context, prefix string) (int, error)
}
