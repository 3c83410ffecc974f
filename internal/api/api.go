// Package api exposes the orchestrator's invocation surface over HTTP. The
// consumer is the external CLI layer; request and response bodies are JSON.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cascade-labs/cascade-go/internal/orchestrator"
	"github.com/cascade-labs/cascade-go/internal/platform/httpserver"
)

type API struct {
	logger *slog.Logger
	svc    *orchestrator.Service
}

func New(logger *slog.Logger, svc *orchestrator.Service) (*API, error) {
	if svc == nil {
		return nil, errors.New("orchestrator service is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &API{logger: logger, svc: svc}, nil
}

func (a *API) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/runs", a.handleStartRun)
	mux.HandleFunc("GET /v1/runs/{run_id}", a.handleGetRun)
	mux.HandleFunc("POST /v1/runs/{run_id}/cancel", a.handleCancelRun)
	mux.HandleFunc("POST /v1/runs/{run_id}/retry", a.handleRetryRun)
	return mux
}

func (a *API) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	if err := enc.Encode(body); err != nil {
		a.logger.Error("write response", "error", err)
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	requestID, _ := httpserver.RequestIDFromContext(r.Context())
	a.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": requestID,
	})
}
