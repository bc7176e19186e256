// internal/api/handlers/run_handler.go
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fawad-mazhar/syros/internal/engine"
	"github.com/fawad-mazhar/syros/internal/models"
)

// RunHandler exposes the engine over HTTP: submit a task list, poll
// progress, request a stop, fetch results. Run handles live in-process;
// durability across restarts comes from the engine's WAL, not from this
// registry.
type RunHandler struct {
	engine *engine.Engine
	opts   models.Options // server defaults for omitted option fields

	mu   sync.RWMutex
	runs map[string]*engine.Run
}

func NewRunHandler(eng *engine.Engine, defaults models.Options) *RunHandler {
	return &RunHandler{
		engine: eng,
		opts:   defaults,
		runs:   make(map[string]*engine.Run),
	}
}

type submitRequest struct {
	Tasks   []models.Task   `json:"tasks"`
	Options *models.Options `json:"options,omitempty"`
}

type submitResponse struct {
	RunID string      `json:"runId"`
	State string      `json:"state"`
	Plan  models.Plan `json:"plan"`
}

func (h *RunHandler) SubmitRun(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Tasks) == 0 {
		http.Error(w, "no tasks submitted", http.StatusBadRequest)
		return
	}

	opts := h.opts
	if req.Options != nil {
		opts = mergeOptions(h.opts, *req.Options)
	}

	// The run outlives this request; its lifecycle is controlled by the
	// stop endpoint, not the request context.
	run, err := h.engine.Submit(context.Background(), req.Tasks, opts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	h.runs[run.ID] = run
	h.mu.Unlock()

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(submitResponse{
		RunID: run.ID,
		State: string(run.State()),
		Plan:  run.Plan(),
	})
}

func (h *RunHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(run.Progress())
}

func (h *RunHandler) StopRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	run.Stop()
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"message": "stop requested",
		"runId":   run.ID,
	})
}

func (h *RunHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	response := struct {
		RunID    string          `json:"runId"`
		State    string          `json:"state"`
		Results  []models.Result `json:"results"`
		Failures map[int]string  `json:"failures,omitempty"`
	}{
		RunID:    run.ID,
		State:    string(run.State()),
		Results:  run.Results(),
		Failures: run.Failures(),
	}
	json.NewEncoder(w).Encode(response)
}

func (h *RunHandler) lookup(id string) (*engine.Run, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	run, ok := h.runs[id]
	return run, ok
}

// StopAll requests a stop on every registered run and waits for them to
// finish, up to timeout. Used during graceful shutdown.
func (h *RunHandler) StopAll(timeout time.Duration) error {
	h.mu.RLock()
	runs := make([]*engine.Run, 0, len(h.runs))
	for _, run := range h.runs {
		runs = append(runs, run)
	}
	h.mu.RUnlock()

	for _, run := range runs {
		run.Stop()
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for _, run := range runs {
		select {
		case <-run.Done():
		case <-deadline.C:
			return fmt.Errorf("shutdown timed out after %v with runs still draining", timeout)
		}
	}
	return nil
}

// mergeOptions overlays caller-specified fields onto the server defaults.
// Zero values fall through to the defaults, matching Options.Normalize.
func mergeOptions(defaults, req models.Options) models.Options {
	out := defaults
	if req.MinWorkers != 0 {
		out.MinWorkers = req.MinWorkers
	}
	if req.MaxWorkers != 0 {
		out.MaxWorkers = req.MaxWorkers
	}
	if req.StartWorkers != 0 {
		out.StartWorkers = req.StartWorkers
	}
	if req.RateHint != 0 {
		out.RateHint = req.RateHint
	}
	if req.RetryCeiling != 0 {
		out.RetryCeiling = req.RetryCeiling
	}
	out.ForceRecompute = req.ForceRecompute
	out.DryRun = req.DryRun
	return out
}
