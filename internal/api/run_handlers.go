package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cascade-labs/cascade-go/internal/orchestrator"
	"github.com/cascade-labs/cascade-go/internal/pipeline"
)

type startRunRequest struct {
	Experiment     string                       `json:"experiment"`
	RunID          string                       `json:"run_id,omitempty"`
	MaxParallelism int                          `json:"max_parallelism,omitempty"`
	TasksPerNode   int                          `json:"tasks_per_node,omitempty"`
	SkipCollect    bool                         `json:"skip_collect,omitempty"`
	Resources      map[string]resourceOverrides `json:"resources,omitempty"`
}

type resourceOverrides struct {
	CPU           string `json:"cpu,omitempty"`
	Memory        string `json:"memory,omitempty"`
	MachineClass  string `json:"machine_class,omitempty"`
	BootDiskClass string `json:"boot_disk_class,omitempty"`
	MaxDuration   string `json:"max_duration,omitempty"`
}

func (a *API) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	overrides := pipeline.Overrides{
		RunID:          strings.TrimSpace(req.RunID),
		MaxParallelism: req.MaxParallelism,
		TasksPerNode:   req.TasksPerNode,
		SkipCollect:    req.SkipCollect,
	}
	if len(req.Resources) > 0 {
		overrides.Resources = make(map[pipeline.Stage]pipeline.ResourceShape, len(req.Resources))
		for name, res := range req.Resources {
			stage := pipeline.Stage(strings.ToLower(strings.TrimSpace(name)))
			if !stage.Valid() {
				a.writeError(w, r, http.StatusBadRequest, "unknown_stage")
				return
			}
			shape := pipeline.ResourceShape{
				CPU:           strings.TrimSpace(res.CPU),
				Memory:        strings.TrimSpace(res.Memory),
				MachineClass:  strings.TrimSpace(res.MachineClass),
				BootDiskClass: strings.TrimSpace(res.BootDiskClass),
			}
			if strings.TrimSpace(res.MaxDuration) != "" {
				d, err := time.ParseDuration(res.MaxDuration)
				if err != nil {
					a.writeError(w, r, http.StatusBadRequest, "invalid_max_duration")
					return
				}
				shape.MaxDuration = d
			}
			overrides.Resources[stage] = shape
		}
	}

	info, err := a.svc.StartRun(req.Experiment, overrides)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrInvalidExperimentID):
			a.writeError(w, r, http.StatusBadRequest, "invalid_experiment")
		case errors.Is(err, orchestrator.ErrDuplicateRun):
			a.writeError(w, r, http.StatusConflict, "duplicate_run")
		default:
			a.logger.Error("start run", "error", err)
			a.writeError(w, r, http.StatusInternalServerError, "internal_error")
		}
		return
	}
	a.writeJSON(w, http.StatusAccepted, info)
}

func (a *API) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	if runID == "" {
		a.writeError(w, r, http.StatusBadRequest, "run_id_required")
		return
	}

	info, err := a.svc.GetRun(runID)
	if err != nil {
		if errors.Is(err, orchestrator.ErrRunNotFound) {
			a.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		a.logger.Error("get run", "run_id", runID, "error", err)
		a.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	a.writeJSON(w, http.StatusOK, info)
}

func (a *API) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	if runID == "" {
		a.writeError(w, r, http.StatusBadRequest, "run_id_required")
		return
	}

	if err := a.svc.CancelRun(runID); err != nil {
		if errors.Is(err, orchestrator.ErrRunNotFound) {
			a.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		a.writeError(w, r, http.StatusConflict, "not_cancellable")
		return
	}
	a.writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id": runID,
		"status": "cancel_requested",
	})
}

func (a *API) handleRetryRun(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	if runID == "" {
		a.writeError(w, r, http.StatusBadRequest, "run_id_required")
		return
	}

	info, err := a.svc.RetryRun(runID)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrRunNotFound):
			a.writeError(w, r, http.StatusNotFound, "not_found")
		case errors.Is(err, orchestrator.ErrRunActive):
			a.writeError(w, r, http.StatusConflict, "run_active")
		case errors.Is(err, orchestrator.ErrRunNotFailed):
			a.writeError(w, r, http.StatusConflict, "run_not_failed")
		default:
			a.logger.Error("retry run", "run_id", runID, "error", err)
			a.writeError(w, r, http.StatusInternalServerError, "internal_error")
		}
		return
	}
	a.writeJSON(w, http.StatusAccepted, info)
}
