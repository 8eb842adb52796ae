package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/upb/redlab/handlers"
	"github.com/upb/redlab/routes"
)

func TestMain(m *testing.M) {
	os.Setenv("ENVIRONMENT", "test")
	os.Setenv("LOG_LEVEL", "error")

	os.Exit(m.Run())
}

// testServer builds the full route stack over a temp results tree with the
// policy files readiness checks for.
func testServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	resultsDir := t.TempDir()
	policyDir := t.TempDir()

	rulePaths := []string{
		filepath.Join(policyDir, "evaluator.yaml"),
		filepath.Join(policyDir, "gates.yaml"),
	}
	for _, path := range rulePaths {
		require.NoError(t, os.WriteFile(path, []byte("version: \"1\"\n"), 0o644))
	}

	logger := zaptest.NewLogger(t)
	healthHandler := handlers.NewHealthHandler(nil, rulePaths, logger)
	runsHandler := handlers.NewRunsHandler(resultsDir, logger)

	ts := httptest.NewServer(routes.NewRouter(healthHandler, runsHandler))
	t.Cleanup(ts.Close)
	return ts, resultsDir
}

func TestServerStartup(t *testing.T) {
	ts, _ := testServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "healthy", data["status"])
}

func TestReadinessWithoutDatabase(t *testing.T) {
	ts, _ := testServer(t)

	resp, err := http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()

	// nil database skips the ping; rule files exist
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIEndpoints(t *testing.T) {
	ts, resultsDir := testServer(t)

	runDir := filepath.Join(resultsDir, "r42")
	require.NoError(t, os.MkdirAll(runDir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(runDir, "summary_index.json"),
		[]byte(`{"malformed":0}`), 0o644))

	testCases := []struct {
		name           string
		path           string
		expectedStatus int
	}{
		{"list runs", "/api/v1/runs", http.StatusOK},
		{"run summary", "/api/v1/runs/r42/summary", http.StatusOK},
		{"missing run summary", "/api/v1/runs/nope/summary", http.StatusNotFound},
		{"not found", "/api/v1/nonexistent", http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Get(ts.URL + tc.path)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tc.expectedStatus, resp.StatusCode, "endpoint: %s", tc.path)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	ts, _ := testServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/runs", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}
