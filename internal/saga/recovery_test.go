package saga

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		PollInterval:   10 * time.Millisecond,
		StuckThreshold: time.Minute,
		LeaseDuration:  time.Minute,
		BatchSize:      10,
	}
}

func TestRecoveryWorker_RecoversStuckSaga(t *testing.T) {
	step1 := &recordingStep{name: "CREATE_ORDER"}
	step2 := &recordingStep{name: "PROCESS_PAYMENT"}
	orch, repo := newTestOrchestrator(t, testConfig(), step1, step2)
	worker := NewRecoveryWorker(repo, orch, testRecoveryConfig())

	// Сага зависла в PROCESSING: процесс упал после первого шага.
	stale := time.Now().Add(-2 * time.Minute)
	inst := &Instance{
		ID:            "saga-stuck",
		TenantID:      "tenant-a",
		SagaType:      "TEST_SAGA",
		CorrelationID: "order-1",
		Status:        StatusProcessing,
		CurrentStep:   1,
		Context:       NewContext(),
		Version:       1,
		CreatedAt:     time.Now(),
		UpdatedAt:     stale,
	}
	seedInstance(t, repo, inst)
	executedAt := stale
	require.NoError(t, repo.SaveStep(context.Background(), &StepRecord{
		SagaID: "saga-stuck", Index: 0, Name: "CREATE_ORDER",
		Status: StepStatusExecuted, ExecutedAt: &executedAt,
	}))

	worker.recoverStuck(context.Background())

	stored, err := repo.GetByID(context.Background(), "saga-stuck")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.Equal(t, 0, step1.executeCalls)
	assert.Equal(t, 1, step2.executeCalls)
}

func TestRecoveryWorker_RecoversCompensatingSaga(t *testing.T) {
	step1 := &recordingStep{name: "CREATE_ORDER"}
	step2 := &recordingStep{name: "PROCESS_PAYMENT"}
	orch, repo := newTestOrchestrator(t, testConfig(), step1, step2)
	worker := NewRecoveryWorker(repo, orch, testRecoveryConfig())

	stale := time.Now().Add(-2 * time.Minute)
	reason := "платёж отклонён"
	inst := &Instance{
		ID:            "saga-comp",
		TenantID:      "tenant-a",
		SagaType:      "TEST_SAGA",
		CorrelationID: "order-2",
		Status:        StatusCompensating,
		CurrentStep:   1,
		Context:       NewContext(),
		FailureReason: &reason,
		Version:       1,
		CreatedAt:     time.Now(),
		UpdatedAt:     stale,
	}
	seedInstance(t, repo, inst)
	executedAt := stale
	require.NoError(t, repo.SaveStep(context.Background(), &StepRecord{
		SagaID: "saga-comp", Index: 0, Name: "CREATE_ORDER",
		Status: StepStatusExecuted, ExecutedAt: &executedAt,
	}))

	worker.recoverStuck(context.Background())

	stored, err := repo.GetByID(context.Background(), "saga-comp")
	require.NoError(t, err)
	// Откат доведён до конца, это штатный исход возобновления.
	assert.Equal(t, StatusCompensated, stored.Status)
	assert.Equal(t, 1, step1.compensateCalls)
}

func TestRecoveryWorker_SkipsLeasedSaga(t *testing.T) {
	step1 := &recordingStep{name: "CREATE_ORDER"}
	orch, repo := newTestOrchestrator(t, testConfig(), step1)
	worker := NewRecoveryWorker(repo, orch, testRecoveryConfig())

	// Сага давно не обновлялась, но lease ещё удерживается другим процессом.
	stale := time.Now().Add(-2 * time.Minute)
	leased := time.Now().Add(time.Minute)
	owner := "other-process-1"
	inst := &Instance{
		ID:            "saga-leased",
		TenantID:      "tenant-a",
		SagaType:      "TEST_SAGA",
		CorrelationID: "order-3",
		Status:        StatusProcessing,
		Context:       NewContext(),
		Owner:         &owner,
		LeasedUntil:   &leased,
		Version:       1,
		CreatedAt:     time.Now(),
		UpdatedAt:     stale,
	}
	seedInstance(t, repo, inst)

	worker.recoverStuck(context.Background())

	stored, err := repo.GetByID(context.Background(), "saga-leased")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, stored.Status)
	assert.Equal(t, 0, step1.executeCalls)
}

func TestRecoveryWorker_SkipsFreshSaga(t *testing.T) {
	step1 := &recordingStep{name: "CREATE_ORDER"}
	orch, repo := newTestOrchestrator(t, testConfig(), step1)
	worker := NewRecoveryWorker(repo, orch, testRecoveryConfig())

	now := time.Now()
	inst := &Instance{
		ID:            "saga-fresh",
		TenantID:      "tenant-a",
		SagaType:      "TEST_SAGA",
		CorrelationID: "order-4",
		Status:        StatusProcessing,
		Context:       NewContext(),
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	seedInstance(t, repo, inst)

	worker.recoverStuck(context.Background())

	stored, err := repo.GetByID(context.Background(), "saga-fresh")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, stored.Status)
	assert.Equal(t, 0, step1.executeCalls)
}

func TestRecoveryWorker_Run_StopsOnContextCancel(t *testing.T) {
	orch, repo := newTestOrchestrator(t, testConfig(), &recordingStep{name: "STEP_1"})
	worker := NewRecoveryWorker(repo, orch, testRecoveryConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("воркер не остановился после отмены контекста")
	}
}
