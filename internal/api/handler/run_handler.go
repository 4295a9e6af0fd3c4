// Package handler implements the run-management HTTP endpoints: submitting
// a processing run over a year range and inspecting its progress, warnings
// and outcome.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"circularity-pipeline/internal/catalog"
	"circularity-pipeline/internal/pipeline"
	"circularity-pipeline/internal/store"
)

// RunRequest is the payload for creating a run.
type RunRequest struct {
	FromYear         int  `json:"fromYear"`
	ToYear           int  `json:"toYear"`
	KeepIntermediate bool `json:"keepIntermediate"`
	Parallel         int  `json:"parallel"`
}

// Handler carries the dependencies of the run endpoints.
type Handler struct {
	DB      *store.DB
	Catalog *catalog.Catalog
	Opts    pipeline.Options
	Log     zerolog.Logger
}

func New(db *store.DB, cat *catalog.Catalog, opts pipeline.Options, log zerolog.Logger) *Handler {
	return &Handler{DB: db, Catalog: cat, Opts: opts, Log: log}
}

// CreateRun starts a new processing run
// @Summary Create a processing run
// @Description Start processing a year range asynchronously and return the run id
// @Tags runs
// @Accept json
// @Produce json
// @Param run body RunRequest true "Run parameters"
// @Success 202 {object} map[string]interface{} "Run accepted"
// @Failure 400 {object} map[string]interface{} "Invalid request payload"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /runs [post]
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.FromYear == 0 || req.ToYear == 0 || req.FromYear > req.ToYear {
		http.Error(w, "fromYear and toYear must form a valid range", http.StatusBadRequest)
		return
	}

	runID := uuid.New().String()
	if err := h.DB.SaveRun(runID, req.FromYear, req.ToYear); err != nil {
		http.Error(w, "Failed to save run", http.StatusInternalServerError)
		return
	}

	opts := h.Opts
	opts.KeepIntermediate = opts.KeepIntermediate || req.KeepIntermediate
	if req.Parallel > 0 {
		opts.Parallel = req.Parallel
	}

	go func() {
		runner := pipeline.NewRunner(h.DB, h.Catalog, opts, runID, h.Log)
		h.DB.UpdateRunStatus(runID, "running")
		if err := runner.ProcessRange(context.Background(), req.FromYear, req.ToYear); err != nil {
			h.Log.Error().Err(err).Str("run", runID).Msg("run finished with errors")
			h.DB.UpdateRunStatus(runID, "failed")
			return
		}
		h.DB.UpdateRunStatus(runID, "completed")
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"runId":  runID,
		"status": "pending",
	})
}

// ListRuns lists all runs
// @Summary List runs
// @Description List all processing runs with their status
// @Tags runs
// @Produce json
// @Success 200 {array} store.Run "Runs"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /runs [get]
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.DB.ListRuns(r.Context())
	if err != nil {
		http.Error(w, "Failed to fetch runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(runs)
}

// GetRun fetches one run
// @Summary Get run
// @Description Fetch one run with its recorded step progress
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} map[string]interface{} "Run details"
// @Failure 404 {object} map[string]interface{} "Run not found"
// @Router /runs/{id} [get]
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := pathID(r.URL.Path, "")
	if runID == "" {
		http.Error(w, "Run ID is required", http.StatusBadRequest)
		return
	}

	run, err := h.DB.GetRun(r.Context(), runID)
	if err != nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	steps, err := h.DB.ListSteps(r.Context(), runID)
	if err != nil {
		http.Error(w, "Failed to fetch steps", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"run":   run,
		"steps": steps,
	})
}

// GetRunWarnings fetches the warnings of a run
// @Summary Get run warnings
// @Description Fetch the persisted harmonization and data-quality warnings of a run
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {array} store.Warning "Warnings"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /runs/{id}/warnings [get]
func (h *Handler) GetRunWarnings(w http.ResponseWriter, r *http.Request) {
	runID := pathID(r.URL.Path, "/warnings")
	if runID == "" {
		http.Error(w, "Run ID is required", http.StatusBadRequest)
		return
	}

	warnings, err := h.DB.ListWarnings(r.Context(), runID)
	if err != nil {
		http.Error(w, "Failed to fetch warnings", http.StatusInternalServerError)
		return
	}
	if warnings == nil {
		warnings = []store.Warning{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(warnings)
}

// pathID extracts the run id segment from /api/v1/runs/{id}<suffix>.
func pathID(path, suffix string) string {
	const prefix = "/api/v1/runs/"
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return ""
	}
	id := strings.TrimPrefix(path, prefix)
	return strings.TrimSuffix(id, suffix)
}
