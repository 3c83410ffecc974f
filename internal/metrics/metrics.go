// Package metrics registers the orchestrator's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cascade_runs_started_total",
		Help: "Runs accepted by the orchestrator.",
	})

	RunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_runs_finished_total",
		Help: "Runs reaching a terminal state, by state.",
	}, []string{"state"})

	JobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_jobs_submitted_total",
		Help: "Jobs submitted to the execution backend, by stage.",
	}, []string{"stage"})

	PollAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_poll_attempts_total",
		Help: "Status and list queries issued while polling, by stage.",
	}, []string{"stage"})

	TransientBackendErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_backend_transient_errors_total",
		Help: "Transient backend query errors absorbed by polling, by backend.",
	}, []string{"backend"})
)
