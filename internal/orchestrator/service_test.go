package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cascade-labs/cascade-go/internal/backend"
	"github.com/cascade-labs/cascade-go/internal/pipeline"
)

// stubJobs assigns each submitted job an outcome from a per-stage queue; the
// last outcome in a queue is sticky. A non-terminal outcome means the job
// never finishes on its own.
type stubJobs struct {
	mu       sync.Mutex
	outcomes map[string][]backend.JobStatus
	byName   map[string]backend.JobStatus
	submits  map[string]int
	cancels  int
}

func newStubJobs() *stubJobs {
	return &stubJobs{
		outcomes: map[string][]backend.JobStatus{},
		byName:   map[string]backend.JobStatus{},
		submits:  map[string]int{},
	}
}

func (j *stubJobs) Submit(ctx context.Context, req backend.JobRequest) (backend.JobHandle, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	stage := req.Labels[pipeline.LabelStage]
	j.submits[stage]++
	status := backend.JobStatus{Phase: backend.PhaseSucceeded}
	if outs := j.outcomes[stage]; len(outs) > 0 {
		status = outs[0]
		if len(outs) > 1 {
			j.outcomes[stage] = outs[1:]
		}
	}
	j.byName[req.Name] = status
	return backend.JobHandle{Name: req.Name}, nil
}

func (j *stubJobs) Status(ctx context.Context, handle backend.JobHandle) (backend.JobStatus, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.byName[handle.Name], nil
}

func (j *stubJobs) Cancel(ctx context.Context, handle backend.JobHandle) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancels++
	return nil
}

func (j *stubJobs) stageSubmits(stage string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.submits[stage]
}

type stubLister struct {
	count int
}

func (l *stubLister) Count(ctx context.Context, prefix string) (int, error) {
	return l.count, nil
}

func newTestService(t *testing.T, jobs backend.Jobs, lister backend.ArtifactLister) *Service {
	t.Helper()
	svc, err := New(Config{
		Jobs:            jobs,
		Artifacts:       lister,
		Profile:         pipeline.DefaultProfile(),
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		PollInterval:    time.Millisecond,
		PollMaxAttempts: 500,
		ListInterval:    time.Millisecond,
		ListMaxAttempts: 3,
	})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	return svc
}

func TestStartRunCompletes(t *testing.T) {
	jobs := newStubJobs()
	svc := newTestService(t, jobs, &stubLister{count: 12})

	info, err := svc.StartRun("exp-1", pipeline.Overrides{})
	if err != nil {
		t.Fatalf("StartRun() err=%v", err)
	}
	if info.RunID == "" {
		t.Fatal("StartRun() returned empty run id")
	}

	final, err := svc.Wait(info.RunID)
	if err != nil {
		t.Fatalf("Wait() err=%v", err)
	}
	if final.State != pipeline.StateCompleted {
		t.Fatalf("State=%s, reason=%q, want completed", final.State, final.Reason)
	}
	if final.FanoutWidth != 12 {
		t.Fatalf("FanoutWidth=%d, want 12", final.FanoutWidth)
	}
	if len(final.Stages) != 3 {
		t.Fatalf("Stages=%+v, want setup, fanout, collect", final.Stages)
	}

	got, err := svc.GetRun(info.RunID)
	if err != nil {
		t.Fatalf("GetRun() err=%v", err)
	}
	if got.State != pipeline.StateCompleted {
		t.Fatalf("GetRun State=%s, want completed", got.State)
	}
}

func TestStartRunInvalidExperiment(t *testing.T) {
	svc := newTestService(t, newStubJobs(), &stubLister{count: 1})

	_, err := svc.StartRun("  ", pipeline.Overrides{})
	if !errors.Is(err, pipeline.ErrInvalidExperimentID) {
		t.Fatalf("StartRun() err=%v, want ErrInvalidExperimentID", err)
	}
}

func TestStartRunDuplicateID(t *testing.T) {
	jobs := newStubJobs()
	svc := newTestService(t, jobs, &stubLister{count: 1})

	info, err := svc.StartRun("exp-1", pipeline.Overrides{RunID: "20260301-100000-deadbeef"})
	if err != nil {
		t.Fatalf("StartRun() err=%v", err)
	}
	if _, err := svc.StartRun("exp-1", pipeline.Overrides{RunID: info.RunID}); !errors.Is(err, ErrDuplicateRun) {
		t.Fatalf("second StartRun() err=%v, want ErrDuplicateRun", err)
	}
}

func TestGetRunNotFound(t *testing.T) {
	svc := newTestService(t, newStubJobs(), &stubLister{count: 1})
	if _, err := svc.GetRun("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("GetRun() err=%v, want ErrRunNotFound", err)
	}
	if err := svc.CancelRun("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("CancelRun() err=%v, want ErrRunNotFound", err)
	}
	if _, err := svc.RetryRun("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("RetryRun() err=%v, want ErrRunNotFound", err)
	}
}

func TestCancelRunStopsFanout(t *testing.T) {
	jobs := newStubJobs()
	// The fan-out job never terminates on its own.
	jobs.outcomes["fanout"] = []backend.JobStatus{{Phase: backend.PhaseRunning}}
	svc := newTestService(t, jobs, &stubLister{count: 5})

	info, err := svc.StartRun("exp-1", pipeline.Overrides{})
	if err != nil {
		t.Fatalf("StartRun() err=%v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for jobs.stageSubmits("fanout") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("fan-out job was never submitted")
		}
		time.Sleep(time.Millisecond)
	}

	if err := svc.CancelRun(info.RunID); err != nil {
		t.Fatalf("CancelRun() err=%v", err)
	}
	final, err := svc.Wait(info.RunID)
	if err != nil {
		t.Fatalf("Wait() err=%v", err)
	}
	if final.State != pipeline.StateCancelled {
		t.Fatalf("State=%s, want cancelled", final.State)
	}

	jobs.mu.Lock()
	cancels := jobs.cancels
	jobs.mu.Unlock()
	if cancels != 1 {
		t.Fatalf("backend cancels=%d, want exactly one", cancels)
	}
}

func TestRetryRunGuards(t *testing.T) {
	jobs := newStubJobs()
	jobs.outcomes["fanout"] = []backend.JobStatus{{Phase: backend.PhaseRunning}}
	svc := newTestService(t, jobs, &stubLister{count: 2})

	info, err := svc.StartRun("exp-1", pipeline.Overrides{})
	if err != nil {
		t.Fatalf("StartRun() err=%v", err)
	}

	// Still running.
	if _, err := svc.RetryRun(info.RunID); !errors.Is(err, ErrRunActive) {
		t.Fatalf("RetryRun() err=%v, want ErrRunActive", err)
	}

	if err := svc.CancelRun(info.RunID); err != nil {
		t.Fatalf("CancelRun() err=%v", err)
	}
	if _, err := svc.Wait(info.RunID); err != nil {
		t.Fatalf("Wait() err=%v", err)
	}

	// Cancelled, not failed.
	if _, err := svc.RetryRun(info.RunID); !errors.Is(err, ErrRunNotFailed) {
		t.Fatalf("RetryRun() err=%v, want ErrRunNotFailed", err)
	}
}

func TestRetryRunRestartsFailedRun(t *testing.T) {
	jobs := newStubJobs()
	// First fan-out job fails, the retried one succeeds.
	jobs.outcomes["fanout"] = []backend.JobStatus{
		{Phase: backend.PhaseFailed, Reason: "oom"},
		{Phase: backend.PhaseSucceeded},
	}
	svc := newTestService(t, jobs, &stubLister{count: 4})

	info, err := svc.StartRun("exp-1", pipeline.Overrides{})
	if err != nil {
		t.Fatalf("StartRun() err=%v", err)
	}
	failed, err := svc.Wait(info.RunID)
	if err != nil {
		t.Fatalf("Wait() err=%v", err)
	}
	if failed.State != pipeline.StateFailed || failed.FailedStage != pipeline.StageFanout {
		t.Fatalf("first run=(%s, %s), want (failed, fanout)", failed.State, failed.FailedStage)
	}

	if _, err := svc.RetryRun(info.RunID); err != nil {
		t.Fatalf("RetryRun() err=%v", err)
	}
	final, err := svc.Wait(info.RunID)
	if err != nil {
		t.Fatalf("Wait() err=%v", err)
	}
	if final.State != pipeline.StateCompleted {
		t.Fatalf("retried run State=%s, reason=%q, want completed", final.State, final.Reason)
	}
	if got := jobs.stageSubmits("setup"); got != 2 {
		t.Fatalf("setup submits=%d, retry must restart from setup", got)
	}
}
