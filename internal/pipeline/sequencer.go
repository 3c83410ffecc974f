package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cascade-labs/cascade-go/internal/backend"
	"github.com/cascade-labs/cascade-go/internal/metrics"
)

// ErrRunCancelled marks a run stopped by an explicit cancel request.
var ErrRunCancelled = errors.New("run cancelled")

// SequencerConfig wires the sequencer to its collaborators. Poll budgets
// are per stage; a slow fan-out does not eat into the collect budget.
type SequencerConfig struct {
	Jobs      backend.Jobs
	Artifacts backend.ArtifactLister
	Logger    *slog.Logger

	PollInterval    time.Duration
	PollMaxAttempts int
	ListInterval    time.Duration
	ListMaxAttempts int

	// StateListener observes every run-state transition; StageListener
	// observes each stage report as its job reaches a terminal state. Both
	// are optional and called from the run's own goroutine.
	StateListener func(RunState)
	StageListener func(StageReport)
}

// StageReport is what the caller sees for one stage: the backend's display
// name for the job and its final status, so failures can be inspected
// out of band without re-querying the orchestrator.
type StageReport struct {
	Stage   Stage  `json:"stage"`
	JobName string `json:"job_name,omitempty"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
}

// Result is the terminal outcome of one run invocation.
type Result struct {
	RunID        string        `json:"run_id"`
	ExperimentID string        `json:"experiment"`
	State        RunState      `json:"state"`
	FailedStage  Stage         `json:"failed_stage,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	FanoutWidth  int           `json:"fanout_width,omitempty"`
	Stages       []StageReport `json:"stages"`
}

// Sequencer drives one run from setup through fan-out discovery, the
// fan-out job, and the optional collect job. It executes as a single
// logical thread of control; the polling waits are its only suspension
// points. It owns the run state exclusively.
type Sequencer struct {
	cfg       SequencerConfig
	submitter *Submitter
	poller    *Poller
	counter   *ArtifactCounter
	logger    *slog.Logger

	state RunState
}

func NewSequencer(cfg SequencerConfig) (*Sequencer, error) {
	if cfg.Jobs == nil {
		return nil, errors.New("jobs backend is required")
	}
	if cfg.Artifacts == nil {
		return nil, errors.New("artifact lister is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.PollMaxAttempts < 1 {
		cfg.PollMaxAttempts = 360
	}
	if cfg.ListInterval <= 0 {
		cfg.ListInterval = 5 * time.Second
	}
	if cfg.ListMaxAttempts < 1 {
		cfg.ListMaxAttempts = 60
	}
	return &Sequencer{
		cfg:       cfg,
		submitter: NewSubmitter(cfg.Jobs),
		poller:    NewPoller(cfg.Jobs, cfg.Logger),
		counter:   NewArtifactCounter(cfg.Artifacts, cfg.Logger),
		logger:    cfg.Logger,
	}, nil
}

// Execute runs the whole pipeline for one immutable parameter set and
// returns its terminal result. Re-invoking with the same parameters after a
// failure restarts from setup; there is no partial resume.
func (s *Sequencer) Execute(ctx context.Context, run RunParameters) Result {
	metrics.RunsStarted.Inc()
	res := Result{RunID: run.RunID, ExperimentID: run.ExperimentID}

	s.state = ""
	s.transition(run, StateInitializing)

	s.transition(run, StateRunningSetup)
	setupSpec := StageSpec{Stage: StageSetup, Resources: run.Resources[StageSetup], TaskCount: 1, Parallelism: 1}
	if err := s.runStage(ctx, run, setupSpec, &res); err != nil {
		return s.finish(run, &res, StageSetup, err)
	}

	s.transition(run, StateDiscoveringFanout)
	n, err := s.counter.WaitForCount(ctx, run.Prefixes[StageSetup], 1, s.cfg.ListInterval, s.cfg.ListMaxAttempts)
	if err != nil {
		// A successful setup job with nothing listable is a setup failure;
		// a zero-width fan-out is never run.
		return s.finish(run, &res, StageSetup, err)
	}
	res.FanoutWidth = n
	s.logger.Info("fanout width discovered", "run_id", run.RunID, "width", n)

	s.transition(run, StateRunningFanout)
	parallelism, tasksPerNode := ComputeParallelism(n, run.MaxParallelism, run.TasksPerNode)
	s.logger.Info("fanout parallelism resolved",
		"run_id", run.RunID, "width", n, "parallelism", parallelism, "tasks_per_node", tasksPerNode)
	fanoutSpec := StageSpec{
		Stage:       StageFanout,
		Resources:   run.Resources[StageFanout],
		TaskCount:   n,
		Parallelism: parallelism,
		FanoutWidth: n,
	}
	if err := s.runStage(ctx, run, fanoutSpec, &res); err != nil {
		return s.finish(run, &res, StageFanout, err)
	}

	if !run.SkipCollect {
		s.transition(run, StateRunningCollect)
		collectSpec := StageSpec{
			Stage:       StageCollect,
			Resources:   run.Resources[StageCollect],
			TaskCount:   1,
			Parallelism: 1,
			FanoutWidth: n,
		}
		if err := s.runStage(ctx, run, collectSpec, &res); err != nil {
			return s.finish(run, &res, StageCollect, err)
		}
	}

	s.transition(run, StateCompleted)
	res.State = StateCompleted
	metrics.RunsFinished.WithLabelValues(string(StateCompleted)).Inc()
	s.logger.Info("run completed", "run_id", run.RunID, "experiment", run.ExperimentID, "width", res.FanoutWidth)
	return res
}

// runStage submits one stage's job and blocks until it is terminal. On an
// external cancel it forwards exactly one cancel to the backend for the
// outstanding job and stops polling.
func (s *Sequencer) runStage(ctx context.Context, run RunParameters, spec StageSpec, res *Result) error {
	if err := ctx.Err(); err != nil {
		return ErrRunCancelled
	}

	handle, err := s.submitter.Submit(ctx, run, spec)
	if err != nil {
		if ctx.Err() != nil {
			return ErrRunCancelled
		}
		return err
	}
	s.logger.Info("job submitted",
		"run_id", run.RunID, "stage", spec.Stage, "job", handle.Name,
		"tasks", spec.TaskCount, "parallelism", spec.Parallelism)

	status, err := s.poller.WaitUntilTerminal(ctx, spec.Stage, handle, s.cfg.PollInterval, s.cfg.PollMaxAttempts)
	if err != nil {
		if ctx.Err() != nil {
			s.cancelJob(run, spec.Stage, handle)
			s.report(res, StageReport{Stage: spec.Stage, JobName: handle.Name, Status: string(backend.PhaseCancelled)})
			return ErrRunCancelled
		}
		s.report(res, StageReport{Stage: spec.Stage, JobName: handle.Name, Status: "unknown", Reason: err.Error()})
		return err
	}

	report := StageReport{Stage: spec.Stage, JobName: handle.Name, Status: string(status.Phase), Reason: status.Reason}
	s.report(res, report)

	switch status.Phase {
	case backend.PhaseSucceeded:
		return nil
	case backend.PhaseCancelled:
		return ErrRunCancelled
	default:
		return &JobFailedError{Stage: spec.Stage, Job: handle.Name, Reason: status.Reason}
	}
}

func (s *Sequencer) cancelJob(run RunParameters, stage Stage, handle backend.JobHandle) {
	cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.cfg.Jobs.Cancel(cancelCtx, handle); err != nil {
		s.logger.Error("job cancel failed",
			"run_id", run.RunID, "stage", stage, "job", handle.Name, "error", err)
		return
	}
	s.logger.Info("job cancelled", "run_id", run.RunID, "stage", stage, "job", handle.Name)
}

func (s *Sequencer) finish(run RunParameters, res *Result, stage Stage, err error) Result {
	if errors.Is(err, ErrRunCancelled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.transition(run, StateCancelled)
		res.State = StateCancelled
		res.Reason = ErrRunCancelled.Error()
		metrics.RunsFinished.WithLabelValues(string(StateCancelled)).Inc()
		s.logger.Info("run cancelled", "run_id", run.RunID, "stage", stage)
		return *res
	}

	s.transition(run, StateFailed)
	res.State = StateFailed
	res.FailedStage = stage
	res.Reason = err.Error()
	metrics.RunsFinished.WithLabelValues(string(StateFailed)).Inc()
	s.logger.Error("run failed", "run_id", run.RunID, "stage", stage, "error", err)
	return *res
}

func (s *Sequencer) transition(run RunParameters, next RunState) {
	if s.state != "" && !CanTransition(s.state, next) {
		s.logger.Error("illegal state transition rejected",
			"run_id", run.RunID, "from", s.state, "to", next)
		return
	}
	prev := s.state
	s.state = next
	s.logger.Info("run state", "run_id", run.RunID, "from", prev, "to", next)
	if s.cfg.StateListener != nil {
		s.cfg.StateListener(next)
	}
}

func (s *Sequencer) report(res *Result, report StageReport) {
	res.Stages = append(res.Stages, report)
	if s.cfg.StageListener != nil {
		s.cfg.StageListener(report)
	}
}
