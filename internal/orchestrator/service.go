// Package orchestrator exposes the invocation surface over the pipeline
// sequencer: start, inspect, cancel, and retry runs. The registry is
// in-memory only; the execution backend's job records and the object store's
// artifacts remain the durable source of truth.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cascade-labs/cascade-go/internal/backend"
	"github.com/cascade-labs/cascade-go/internal/pipeline"
)

var (
	ErrRunNotFound  = errors.New("run not found")
	ErrDuplicateRun = errors.New("run id already exists")
	ErrRunActive    = errors.New("run is still active")
	ErrRunNotFailed = errors.New("run is not in a failed state")
)

type Config struct {
	Jobs      backend.Jobs
	Artifacts backend.ArtifactLister
	Profile   pipeline.Profile
	Logger    *slog.Logger

	PollInterval    time.Duration
	PollMaxAttempts int
	ListInterval    time.Duration
	ListMaxAttempts int
}

// RunInfo is a point-in-time snapshot of a run for callers.
type RunInfo struct {
	RunID        string                 `json:"run_id"`
	ExperimentID string                 `json:"experiment"`
	State        pipeline.RunState      `json:"state"`
	FanoutWidth  int                    `json:"fanout_width,omitempty"`
	Reason       string                 `json:"reason,omitempty"`
	FailedStage  pipeline.Stage         `json:"failed_stage,omitempty"`
	Stages       []pipeline.StageReport `json:"stages,omitempty"`
}

type runEntry struct {
	params pipeline.RunParameters

	mu     sync.Mutex
	state  pipeline.RunState
	stages []pipeline.StageReport
	result *pipeline.Result
	cancel context.CancelFunc
	done   chan struct{}
}

type Service struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.RWMutex
	runs map[string]*runEntry
}

func New(cfg Config) (*Service, error) {
	if cfg.Jobs == nil {
		return nil, errors.New("jobs backend is required")
	}
	if cfg.Artifacts == nil {
		return nil, errors.New("artifact lister is required")
	}
	if err := cfg.Profile.Validate(); err != nil {
		return nil, fmt.Errorf("resource profile: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		cfg:    cfg,
		logger: cfg.Logger,
		runs:   make(map[string]*runEntry),
	}, nil
}

// StartRun validates the request, registers the run, and launches its
// sequencer. It returns immediately; progress is observed via GetRun.
func (s *Service) StartRun(experimentID string, ov pipeline.Overrides) (RunInfo, error) {
	params, err := pipeline.NewRun(experimentID, s.cfg.Profile, ov)
	if err != nil {
		return RunInfo{}, err
	}

	entry := &runEntry{
		params: params,
		state:  pipeline.StateInitializing,
	}

	s.mu.Lock()
	if _, exists := s.runs[params.RunID]; exists {
		s.mu.Unlock()
		return RunInfo{}, fmt.Errorf("%w: %s", ErrDuplicateRun, params.RunID)
	}
	s.runs[params.RunID] = entry
	s.mu.Unlock()

	s.launch(entry)
	return s.snapshot(entry), nil
}

// CancelRun requests cooperative cancellation of a run. The sequencer
// forwards one cancel to the backend for the outstanding job, if any.
func (s *Service) CancelRun(runID string) error {
	entry, err := s.lookup(runID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.state.Terminal() {
		return fmt.Errorf("run %s already %s", runID, entry.state)
	}
	if entry.cancel != nil {
		entry.cancel()
	}
	return nil
}

// RetryRun re-executes a failed run with its original parameters. The new
// invocation restarts from setup; no stage-level resume is attempted.
func (s *Service) RetryRun(runID string) (RunInfo, error) {
	entry, err := s.lookup(runID)
	if err != nil {
		return RunInfo{}, err
	}

	entry.mu.Lock()
	switch {
	case !entry.state.Terminal():
		entry.mu.Unlock()
		return RunInfo{}, fmt.Errorf("%w: %s", ErrRunActive, runID)
	case entry.state != pipeline.StateFailed:
		entry.mu.Unlock()
		return RunInfo{}, fmt.Errorf("%w: %s is %s", ErrRunNotFailed, runID, entry.state)
	}
	entry.state = pipeline.StateInitializing
	entry.stages = nil
	entry.result = nil
	entry.mu.Unlock()

	s.launch(entry)
	return s.snapshot(entry), nil
}

func (s *Service) GetRun(runID string) (RunInfo, error) {
	entry, err := s.lookup(runID)
	if err != nil {
		return RunInfo{}, err
	}
	return s.snapshot(entry), nil
}

// Wait blocks until the run's current invocation finishes. Used by tests
// and by callers that want synchronous completion.
func (s *Service) Wait(runID string) (RunInfo, error) {
	entry, err := s.lookup(runID)
	if err != nil {
		return RunInfo{}, err
	}
	entry.mu.Lock()
	done := entry.done
	entry.mu.Unlock()
	if done != nil {
		<-done
	}
	return s.snapshot(entry), nil
}

func (s *Service) lookup(runID string) (*runEntry, error) {
	s.mu.RLock()
	entry, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return entry, nil
}

func (s *Service) launch(entry *runEntry) {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	entry.mu.Lock()
	entry.cancel = cancel
	entry.done = done
	entry.mu.Unlock()

	seq, err := pipeline.NewSequencer(pipeline.SequencerConfig{
		Jobs:            s.cfg.Jobs,
		Artifacts:       s.cfg.Artifacts,
		Logger:          s.logger,
		PollInterval:    s.cfg.PollInterval,
		PollMaxAttempts: s.cfg.PollMaxAttempts,
		ListInterval:    s.cfg.ListInterval,
		ListMaxAttempts: s.cfg.ListMaxAttempts,
		StateListener: func(state pipeline.RunState) {
			entry.mu.Lock()
			entry.state = state
			entry.mu.Unlock()
		},
		StageListener: func(report pipeline.StageReport) {
			entry.mu.Lock()
			entry.stages = append(entry.stages, report)
			entry.mu.Unlock()
		},
	})
	if err != nil {
		// Config was validated in New; this is unreachable in practice.
		entry.mu.Lock()
		entry.state = pipeline.StateFailed
		entry.result = &pipeline.Result{
			RunID:        entry.params.RunID,
			ExperimentID: entry.params.ExperimentID,
			State:        pipeline.StateFailed,
			Reason:       err.Error(),
		}
		entry.mu.Unlock()
		cancel()
		close(done)
		return
	}

	go func() {
		defer cancel()
		defer close(done)
		result := seq.Execute(runCtx, entry.params)
		entry.mu.Lock()
		entry.state = result.State
		entry.result = &result
		entry.mu.Unlock()
	}()
}

func (s *Service) snapshot(entry *runEntry) RunInfo {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	info := RunInfo{
		RunID:        entry.params.RunID,
		ExperimentID: entry.params.ExperimentID,
		State:        entry.state,
		Stages:       append([]pipeline.StageReport(nil), entry.stages...),
	}
	if entry.result != nil {
		info.FanoutWidth = entry.result.FanoutWidth
		info.Reason = entry.result.Reason
		info.FailedStage = entry.result.FailedStage
		info.Stages = append([]pipeline.StageReport(nil), entry.result.Stages...)
	}
	return info
}
