package routes

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/redlab/handlers"
)

func newTestRouter(t *testing.T, resultsDir string) http.Handler {
	t.Helper()
	logger := zap.NewNop()
	health := handlers.NewHealthHandler(nil, nil, logger)
	runs := handlers.NewRunsHandler(resultsDir, logger)
	return NewRouter(health, runs)
}

func TestRouter_Healthz(t *testing.T) {
	router := newTestRouter(t, t.TempDir())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestRouter_Readyz(t *testing.T) {
	router := newTestRouter(t, t.TempDir())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_ListRuns(t *testing.T) {
	resultsDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(resultsDir, "r42"), 0o755))

	router := newTestRouter(t, resultsDir)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "r42")
}

func TestRouter_RunSummary(t *testing.T) {
	resultsDir := t.TempDir()
	runDir := filepath.Join(resultsDir, "r42")
	require.NoError(t, os.MkdirAll(runDir, 0o755))
	payload := []byte(`{"totals":{"rows":3,"callable":2,"passes":1,"fails":1}}`)
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "summary_index.json"), payload, 0o644))

	router := newTestRouter(t, resultsDir)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/r42/summary", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, string(payload), rec.Body.String())
}

func TestRouter_RunSummaryNotFound(t *testing.T) {
	router := newTestRouter(t, t.TempDir())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/missing/summary", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_UnknownEndpoint(t *testing.T) {
	router := newTestRouter(t, t.TempDir())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/unknown", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "endpoint not found")
}
