package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/cascade-labs/cascade-go/internal/backend"
	"github.com/cascade-labs/cascade-go/internal/metrics"
)

const (
	defaultTransientDelay = 2 * time.Second
	defaultTransientCap   = 5
)

// Poller blocks until a submitted job reaches a terminal phase. Query
// errors are transport problems, not job outcomes: they are retried after a
// short fixed delay without consuming a polling attempt, up to an internal
// cap.
type Poller struct {
	jobs   backend.Jobs
	logger *slog.Logger

	// Overridable for tests; zero values pick the defaults.
	TransientDelay time.Duration
	TransientCap   int
}

func NewPoller(jobs backend.Jobs, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{jobs: jobs, logger: logger}
}

func (p *Poller) WaitUntilTerminal(ctx context.Context, stage Stage, handle backend.JobHandle, interval time.Duration, maxAttempts int) (backend.JobStatus, error) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	transientDelay := p.TransientDelay
	if transientDelay <= 0 {
		transientDelay = defaultTransientDelay
	}
	transientCap := p.TransientCap
	if transientCap < 1 {
		transientCap = defaultTransientCap
	}

	start := time.Now()
	attempt := 0
	transient := 0
	for attempt < maxAttempts {
		metrics.PollAttempts.WithLabelValues(string(stage)).Inc()
		status, err := p.jobs.Status(ctx, handle)
		if err != nil {
			if ctx.Err() != nil {
				return backend.JobStatus{}, ctx.Err()
			}
			transient++
			metrics.TransientBackendErrors.WithLabelValues("jobs").Inc()
			if transient > transientCap {
				return backend.JobStatus{}, &PollingUnavailableError{Stage: stage, Cause: err}
			}
			p.logger.Warn("status query failed, retrying",
				"stage", stage, "job", handle.Name, "transient", transient, "error", err)
			if err := sleepCtx(ctx, transientDelay); err != nil {
				return backend.JobStatus{}, err
			}
			continue
		}
		transient = 0

		if status.Phase.Terminal() {
			return status, nil
		}

		attempt++
		if attempt >= maxAttempts {
			break
		}
		if err := sleepCtx(ctx, interval); err != nil {
			return backend.JobStatus{}, err
		}
	}
	return backend.JobStatus{}, &PollTimeoutError{Stage: stage, Job: handle.Name, Elapsed: time.Since(start)}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
