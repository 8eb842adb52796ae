package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeRuleFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("version: \"1\"\n"), 0o644))
	return path
}

func decodeHealth(t *testing.T, rec *httptest.ResponseRecorder) HealthResponse {
	t.Helper()
	var envelope struct {
		Data HealthResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Data
}

func TestHealthHandler_HandleHealth(t *testing.T) {
	handler := NewHealthHandler(nil, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.HandleHealth(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	response := decodeHealth(t, rec)
	assert.Equal(t, "healthy", response.Status)
	assert.NotEmpty(t, response.Timestamp)
}

func TestHealthHandler_HandleReadiness_NoDatabase(t *testing.T) {
	dir := t.TempDir()
	rules := []string{
		writeRuleFile(t, dir, "evaluator.yaml"),
		writeRuleFile(t, dir, "gates.yaml"),
	}
	handler := NewHealthHandler(nil, rules, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	handler.HandleReadiness(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	response := decodeHealth(t, rec)
	assert.Equal(t, "healthy", response.Status)
	assert.Equal(t, "healthy", response.Checks["database"])
	assert.Equal(t, "healthy", response.Checks["rule_files"])
}

func TestHealthHandler_HandleReadiness_MissingRuleFile(t *testing.T) {
	dir := t.TempDir()
	rules := []string{
		writeRuleFile(t, dir, "evaluator.yaml"),
		filepath.Join(dir, "gates.yaml"),
	}
	handler := NewHealthHandler(nil, rules, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	handler.HandleReadiness(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	response := decodeHealth(t, rec)
	assert.Equal(t, "unhealthy", response.Status)
	assert.Equal(t, "healthy", response.Checks["database"])
	assert.Equal(t, "unhealthy", response.Checks["rule_files"])
}

func TestHealthHandler_HandleReadiness_DatabaseHealthy(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	handler := NewHealthHandler(db, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	handler.HandleReadiness(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	response := decodeHealth(t, rec)
	assert.Equal(t, "healthy", response.Checks["database"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthHandler_HandleReadiness_DatabaseDown(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing().WillReturnError(assert.AnError)

	handler := NewHealthHandler(db, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	handler.HandleReadiness(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	response := decodeHealth(t, rec)
	assert.Equal(t, "unhealthy", response.Status)
	assert.Equal(t, "unhealthy", response.Checks["database"])
}
