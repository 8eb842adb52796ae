package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/redlab/models"
)

func newTestService(t *testing.T, config Config) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewService(db, zap.NewNop(), config), mock
}

func denyDecision() models.GateDecision {
	return models.GateDecision{
		Decision:   models.DecisionDeny,
		ReasonCode: "pre_hard_limit",
		RuleID:     "pre_hard_limit",
	}
}

func TestNewGateEvent(t *testing.T) {
	event := NewGateEvent("r42", 3, StagePre, denyDecision())

	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", event.ID.String())
	assert.Equal(t, "r42", event.RunID)
	assert.Equal(t, 3, event.Trial)
	assert.Equal(t, StagePre, event.Stage)
	assert.Equal(t, "deny", event.Decision)
	assert.Equal(t, "pre_hard_limit", event.ReasonCode)
	assert.Equal(t, "pre_hard_limit", event.RuleID)
	assert.False(t, event.RecordedAt.IsZero())
}

func TestService_StartStop(t *testing.T) {
	service, _ := newTestService(t, DefaultConfig())

	require.NoError(t, service.Start())
	assert.Error(t, service.Start())

	require.NoError(t, service.Stop(time.Second))
	assert.Error(t, service.Stop(time.Second))
}

func TestService_RecordAfterStop(t *testing.T) {
	service, _ := newTestService(t, DefaultConfig())

	require.NoError(t, service.Start())
	require.NoError(t, service.Stop(time.Second))

	err := service.Record(NewGateEvent("r42", 0, StagePre, denyDecision()))
	assert.ErrorContains(t, err, "stopped")

	err = service.RecordBlocking(context.Background(), NewGateEvent("r42", 1, StagePost, denyDecision()))
	assert.ErrorContains(t, err, "stopped")
}

func TestService_RecordBeforeStart(t *testing.T) {
	service, _ := newTestService(t, DefaultConfig())

	err := service.Record(NewGateEvent("r42", 0, StagePre, denyDecision()))
	assert.Error(t, err)
}

func TestService_RecordPersistsEvent(t *testing.T) {
	service, mock := newTestService(t, Config{BufferSize: 8, WorkerCount: 1})
	mock.ExpectExec("INSERT INTO gate_audit").
		WithArgs(
			sqlmock.AnyArg(), "r42", 3, StagePost,
			"warn", "soft_limit", "pre_soft_limit", sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, service.Start())

	decision := models.GateDecision{
		Decision:   models.DecisionWarn,
		ReasonCode: "soft_limit",
		RuleID:     "pre_soft_limit",
	}
	require.NoError(t, service.RecordDecision("r42", 3, StagePost, decision))

	require.NoError(t, service.Stop(time.Second))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_StopFlushesPendingEvents(t *testing.T) {
	const events = 5
	service, mock := newTestService(t, Config{BufferSize: events, WorkerCount: 2})
	for i := 0; i < events; i++ {
		mock.ExpectExec("INSERT INTO gate_audit").
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	require.NoError(t, service.Start())
	for i := 0; i < events; i++ {
		require.NoError(t, service.RecordDecision("r42", i, StagePre, denyDecision()))
	}
	require.NoError(t, service.Stop(time.Second))

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 0, service.GetStats().PendingEvents)
}

func TestService_InsertFailureDoesNotStopWorkers(t *testing.T) {
	service, mock := newTestService(t, Config{BufferSize: 4, WorkerCount: 1})
	mock.ExpectExec("INSERT INTO gate_audit").
		WillReturnError(assert.AnError)
	mock.ExpectExec("INSERT INTO gate_audit").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, service.Start())
	require.NoError(t, service.RecordDecision("r42", 0, StagePre, denyDecision()))
	require.NoError(t, service.RecordDecision("r42", 1, StagePre, denyDecision()))
	require.NoError(t, service.Stop(time.Second))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_RecordBlocking(t *testing.T) {
	service, mock := newTestService(t, Config{BufferSize: 1, WorkerCount: 1})
	mock.ExpectExec("INSERT INTO gate_audit").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, service.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, service.RecordBlocking(ctx, NewGateEvent("r42", 0, StagePre, denyDecision())))

	require.NoError(t, service.Stop(time.Second))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_GetStats(t *testing.T) {
	service, _ := newTestService(t, Config{BufferSize: 16, WorkerCount: 3})

	stats := service.GetStats()
	assert.Equal(t, 16, stats.BufferSize)
	assert.Equal(t, 3, stats.WorkerCount)
	assert.False(t, stats.Started)

	require.NoError(t, service.Start())
	assert.True(t, service.GetStats().Started)
	require.NoError(t, service.Stop(time.Second))
}
