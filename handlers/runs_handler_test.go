package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func summaryRequest(runID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+runID+"/summary", nil)
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("id", runID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

func TestRunsHandler_HandleList(t *testing.T) {
	resultsDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(resultsDir, "r2"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(resultsDir, "r1"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(resultsDir, "r1", "summary_index.json"), []byte("{}"), 0o644))
	// stray files are not runs
	require.NoError(t, os.WriteFile(
		filepath.Join(resultsDir, "summary.csv"), []byte("exp_id\n"), 0o644))

	handler := NewRunsHandler(resultsDir, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.HandleList(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data []RunInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Len(t, envelope.Data, 2)
	assert.Equal(t, RunInfo{ID: "r1", HasSummary: true}, envelope.Data[0])
	assert.Equal(t, RunInfo{ID: "r2", HasSummary: false}, envelope.Data[1])
}

func TestRunsHandler_HandleList_MissingResultsDir(t *testing.T) {
	handler := NewRunsHandler(filepath.Join(t.TempDir(), "absent"), zap.NewNop())

	rec := httptest.NewRecorder()
	handler.HandleList(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data []RunInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Empty(t, envelope.Data)
}

func TestRunsHandler_HandleSummary(t *testing.T) {
	resultsDir := t.TempDir()
	runDir := filepath.Join(resultsDir, "r42")
	require.NoError(t, os.MkdirAll(runDir, 0o755))
	payload := []byte(`{"callable_pass_rate":0.5,"malformed":0}`)
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "summary_index.json"), payload, 0o644))

	handler := NewRunsHandler(resultsDir, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.HandleSummary(rec, summaryRequest("r42"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, payload, rec.Body.Bytes())
}

func TestRunsHandler_HandleSummary_NotFound(t *testing.T) {
	handler := NewRunsHandler(t.TempDir(), zap.NewNop())

	rec := httptest.NewRecorder()
	handler.HandleSummary(rec, summaryRequest("missing"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunsHandler_HandleSummary_RejectsPathTraversal(t *testing.T) {
	handler := NewRunsHandler(t.TempDir(), zap.NewNop())

	rec := httptest.NewRecorder()
	handler.HandleSummary(rec, summaryRequest(".."))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
