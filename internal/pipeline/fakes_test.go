package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/cascade-labs/cascade-go/internal/backend"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type statusStep struct {
	status backend.JobStatus
	err    error
}

// scriptedJobs plays back a fixed status sequence; the last step is sticky.
type scriptedJobs struct {
	mu      sync.Mutex
	steps   []statusStep
	cancels int
}

func (s *scriptedJobs) Submit(ctx context.Context, req backend.JobRequest) (backend.JobHandle, error) {
	return backend.JobHandle{Name: req.Name}, nil
}

func (s *scriptedJobs) Status(ctx context.Context, handle backend.JobHandle) (backend.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.steps) == 0 {
		return backend.JobStatus{Phase: backend.PhaseRunning}, nil
	}
	step := s.steps[0]
	if len(s.steps) > 1 {
		s.steps = s.steps[1:]
	}
	return step.status, step.err
}

func (s *scriptedJobs) Cancel(ctx context.Context, handle backend.JobHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels++
	return nil
}

// fakeJobs scripts per-stage status sequences, keyed through the stage label
// each submitted job carries.
type fakeJobs struct {
	mu        sync.Mutex
	script    map[Stage][]statusStep
	submitErr map[Stage]error
	submits   []backend.JobRequest
	cancels   []backend.JobHandle
	byName    map[string]Stage
	onStatus  func(stage Stage)
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{
		script:    map[Stage][]statusStep{},
		submitErr: map[Stage]error{},
		byName:    map[string]Stage{},
	}
}

func (f *fakeJobs) Submit(ctx context.Context, req backend.JobRequest) (backend.JobHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stage := Stage(req.Labels[LabelStage])
	if err := f.submitErr[stage]; err != nil {
		return backend.JobHandle{}, err
	}
	f.submits = append(f.submits, req)
	f.byName[req.Name] = stage
	return backend.JobHandle{Name: req.Name, UID: "uid-" + req.Name}, nil
}

func (f *fakeJobs) Status(ctx context.Context, handle backend.JobHandle) (backend.JobStatus, error) {
	f.mu.Lock()
	stage := f.byName[handle.Name]
	steps := f.script[stage]
	var step statusStep
	if len(steps) == 0 {
		step = statusStep{status: backend.JobStatus{Phase: backend.PhaseRunning}}
	} else {
		step = steps[0]
		if len(steps) > 1 {
			f.script[stage] = steps[1:]
		}
	}
	hook := f.onStatus
	f.mu.Unlock()
	if hook != nil {
		hook(stage)
	}
	return step.status, step.err
}

func (f *fakeJobs) Cancel(ctx context.Context, handle backend.JobHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, handle)
	return nil
}

func (f *fakeJobs) submitted(stage Stage) []backend.JobRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []backend.JobRequest
	for _, req := range f.submits {
		if Stage(req.Labels[LabelStage]) == stage {
			out = append(out, req)
		}
	}
	return out
}

type countStep struct {
	count int
	err   error
}

// fakeLister plays back a fixed count sequence; the last step is sticky.
type fakeLister struct {
	mu    sync.Mutex
	steps []countStep
	calls int
}

func (l *fakeLister) Count(ctx context.Context, prefix string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if len(l.steps) == 0 {
		return 0, nil
	}
	step := l.steps[0]
	if len(l.steps) > 1 {
		l.steps = l.steps[1:]
	}
	return step.count, step.err
}
