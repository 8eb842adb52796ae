// Command report-server serves aggregated run results over HTTP and, when
// a database is configured, hosts the asynchronous gate audit sink.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/upb/redlab/config"
	"github.com/upb/redlab/handlers"
	"github.com/upb/redlab/internal/observability"
	"github.com/upb/redlab/routes"
	"github.com/upb/redlab/services/audit"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.New(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	var db *sql.DB
	var auditService *audit.Service
	if cfg.Database != nil {
		db, err = openDatabase(ctx, cfg.Database, logger)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		auditService = audit.NewService(db, logger, audit.DefaultConfig())
		if err := auditService.Start(); err != nil {
			logger.Fatal("failed to start audit service", zap.Error(err))
		}
	} else {
		logger.Info("no database configured; gate audit sink disabled")
	}

	rulePaths := []string{cfg.Paths.EvaluatorRules, cfg.Paths.GatesRules}
	healthHandler := handlers.NewHealthHandler(db, rulePaths, logger)
	runsHandler := handlers.NewRunsHandler(cfg.Paths.ResultsDir, logger)

	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      routes.NewRouter(healthHandler, runsHandler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("report server listening",
			zap.String("addr", server.Addr),
			zap.String("results_dir", cfg.Paths.ResultsDir))
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	if auditService != nil {
		if err := auditService.Stop(cfg.Server.ShutdownTimeout); err != nil {
			logger.Error("audit service shutdown failed", zap.Error(err))
		}
	}
	logger.Info("report server stopped")
}

// openDatabase connects to PostgreSQL and verifies the connection.
func openDatabase(ctx context.Context, dbCfg *config.DatabaseConfig, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", dbCfg.DSN())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(dbCfg.MaxOpenConns)
	db.SetMaxIdleConns(dbCfg.MaxIdleConns)
	db.SetConnMaxLifetime(dbCfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("connected to database", zap.String("database", dbCfg.LogString()))
	return db, nil
}
