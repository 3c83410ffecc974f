// Package pipeline drives a three-stage batch run: a single setup task that
// seeds N artifacts, a fan-out of N independent tasks, and an optional
// single collect task over the fan-out results.
package pipeline

import "github.com/cascade-labs/cascade-go/internal/backend"

// Stage names the three ordered phases of a run by topology.
type Stage string

const (
	StageSetup   Stage = "setup"
	StageFanout  Stage = "fanout"
	StageCollect Stage = "collect"
)

func (s Stage) Valid() bool {
	switch s {
	case StageSetup, StageFanout, StageCollect:
		return true
	default:
		return false
	}
}

// Stages lists the phases in execution order.
func Stages() []Stage {
	return []Stage{StageSetup, StageFanout, StageCollect}
}

// StageSpec is the fully resolved specification for one stage's job. It is
// built immediately before submission and discarded once the job is
// terminal. FanoutWidth is the discovered N; the collect stage passes it to
// its task through the environment.
type StageSpec struct {
	Stage       Stage
	Resources   ResourceShape
	TaskCount   int
	Parallelism int
	FanoutWidth int
	Env         []backend.EnvVar
}
