package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/upb/redlab/utils"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db        *sql.DB
	rulePaths []string
	logger    *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db may be nil when no audit
// database is configured; rulePaths are the policy files readiness verifies.
func NewHealthHandler(db *sql.DB, rulePaths []string, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:        db,
		rulePaths: rulePaths,
		logger:    logger,
	}
}

// HandleHealth handles GET /healthz
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
// Readiness check - validates the audit database (when configured) and the
// policy rule files
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if err := h.checkDatabase(ctx); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		checks["database"] = "unhealthy"
		allHealthy = false
	} else {
		checks["database"] = "healthy"
	}

	if err := h.checkRuleFiles(); err != nil {
		h.logger.Warn("rule file health check failed", zap.Error(err))
		checks["rule_files"] = "unhealthy"
		allHealthy = false
	} else {
		checks["rule_files"] = "healthy"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// checkDatabase pings the audit database when one is configured
func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if h.db == nil {
		return nil
	}

	if err := h.db.PingContext(ctx); err != nil {
		return err
	}

	var result int
	if err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return err
	}

	return nil
}

// checkRuleFiles verifies the configured policy files are present
func (h *HealthHandler) checkRuleFiles() error {
	for _, path := range h.rulePaths {
		if _, err := os.Stat(path); err != nil {
			return err
		}
	}
	return nil
}
