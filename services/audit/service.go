package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/redlab/models"
)

// Gate checkpoint identifiers as they appear in the gate_audit table.
const (
	StagePre  = "pre"
	StagePost = "post"
)

// GateEvent is one gate decision captured during a run.
type GateEvent struct {
	ID         uuid.UUID
	RunID      string
	Trial      int
	Stage      string
	Decision   string
	ReasonCode string
	RuleID     string
	RecordedAt time.Time
}

// NewGateEvent builds a gate event from a decision at the given checkpoint.
func NewGateEvent(runID string, trial int, stage string, decision models.GateDecision) *GateEvent {
	return &GateEvent{
		ID:         uuid.New(),
		RunID:      runID,
		Trial:      trial,
		Stage:      stage,
		Decision:   string(decision.Decision),
		ReasonCode: decision.ReasonCode,
		RuleID:     decision.RuleID,
		RecordedAt: time.Now().UTC(),
	}
}

// Service persists gate events to Postgres asynchronously. Events are
// buffered on a channel and drained by background workers so recording a
// decision never blocks the trial loop.
type Service struct {
	db          *sql.DB
	logger      *zap.Logger
	eventChan   chan *GateEvent
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	stopped     bool
	mu          sync.RWMutex
}

// Config holds configuration for the audit Service.
type Config struct {
	BufferSize  int
	WorkerCount int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BufferSize:  1024,
		WorkerCount: 2,
	}
}

// NewService creates a new audit Service instance.
func NewService(db *sql.DB, logger *zap.Logger, config Config) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		db:          db,
		logger:      logger,
		eventChan:   make(chan *GateEvent, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the background workers.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop gracefully stops the service, waiting for pending events to flush.
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("audit service not started")
	}
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit service already stopped")
	}
	s.stopped = true

	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))

	// recorders hold the read lock across their sends, so closing under the
	// write lock cannot race an in-flight send
	close(s.eventChan)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		s.cancel()
		return nil
	case <-time.After(timeout):
		s.cancel()
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// Record queues an event without blocking. A full buffer drops the event;
// the trial loop must never stall on audit writes.
func (s *Service) Record(event *GateEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return fmt.Errorf("audit service not started")
	}
	if s.stopped {
		return fmt.Errorf("audit service stopped")
	}

	select {
	case s.eventChan <- event:
		return nil
	default:
		s.logger.Warn("audit event channel full, dropping event",
			zap.String("run_id", event.RunID),
			zap.String("stage", event.Stage),
			zap.String("reason_code", event.ReasonCode))
		return fmt.Errorf("audit event buffer full")
	}
}

// RecordBlocking queues an event, waiting until there is buffer room or the
// context is cancelled.
func (s *Service) RecordBlocking(ctx context.Context, event *GateEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return fmt.Errorf("audit service not started")
	}
	if s.stopped {
		return fmt.Errorf("audit service stopped")
	}

	select {
	case s.eventChan <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return fmt.Errorf("audit service stopped")
	}
}

// RecordDecision is the convenience path used by the trial loop.
func (s *Service) RecordDecision(runID string, trial int, stage string, decision models.GateDecision) error {
	return s.Record(NewGateEvent(runID, trial, stage, decision))
}

func (s *Service) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for event := range s.eventChan {
		if err := s.insertEvent(event); err != nil {
			s.logger.Error("failed to persist gate event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("run_id", event.RunID),
				zap.String("stage", event.Stage),
				zap.String("reason_code", event.ReasonCode))
		}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

func (s *Service) insertEvent(event *GateEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
		INSERT INTO gate_audit (id, run_id, trial, stage, decision, reason_code, rule_id, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID, event.RunID, event.Trial, event.Stage,
		event.Decision, event.ReasonCode, event.RuleID, event.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to insert gate event: %w", err)
	}

	return nil
}

// GetStats returns statistics about the audit service.
func (s *Service) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started,
	}
}

// Stats represents audit service statistics.
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Started       bool
}
