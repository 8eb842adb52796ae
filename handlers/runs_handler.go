package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/upb/redlab/services"
	"github.com/upb/redlab/utils"
)

// RunInfo describes one run directory in the results tree.
type RunInfo struct {
	ID         string `json:"id"`
	HasSummary bool   `json:"has_summary"`
}

// RunsHandler serves aggregated run outputs from the results directory.
type RunsHandler struct {
	resultsDir string
	logger     *zap.Logger
}

// NewRunsHandler creates a new RunsHandler
func NewRunsHandler(resultsDir string, logger *zap.Logger) *RunsHandler {
	return &RunsHandler{
		resultsDir: resultsDir,
		logger:     logger,
	}
}

// HandleList handles GET /api/v1/runs
func (h *RunsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(h.resultsDir)
	if err != nil {
		if os.IsNotExist(err) {
			_ = utils.WriteOK(w, []RunInfo{})
			return
		}
		HandleServiceError(w, services.WrapInternal("failed to read results directory", err), h.logger)
		return
	}

	runs := make([]RunInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		indexPath := filepath.Join(h.resultsDir, entry.Name(), "summary_index.json")
		_, statErr := os.Stat(indexPath)
		runs = append(runs, RunInfo{
			ID:         entry.Name(),
			HasSummary: statErr == nil,
		})
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].ID < runs[j].ID })

	_ = utils.WriteOK(w, runs)
}

// HandleSummary handles GET /api/v1/runs/{id}/summary
// Serves the run's summary_index.json as written by the aggregator.
func (h *RunsHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if runID == "" || strings.ContainsAny(runID, `/\`) || strings.Contains(runID, "..") {
		HandleServiceError(w, services.ErrInvalidInput, h.logger)
		return
	}

	payload, err := os.ReadFile(filepath.Join(h.resultsDir, runID, "summary_index.json"))
	if err != nil {
		if os.IsNotExist(err) {
			HandleServiceError(w, services.ErrRunNotFound, h.logger)
			return
		}
		HandleServiceError(w, services.WrapInternal("failed to read summary index", err), h.logger)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(payload); err != nil {
		h.logger.Error("failed to write summary response", zap.Error(err))
	}
}
