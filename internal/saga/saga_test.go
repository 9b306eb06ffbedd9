package saga

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Тесты машины состояний
// =============================================================================

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusStarted, false},
		{StatusProcessing, false},
		{StatusCompensating, false},
		{StatusCompleted, true},
		{StatusCompensated, true},
		{StatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestInstance_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name  string
		from  Status
		to    Status
		canDo bool
	}{
		{"STARTED → PROCESSING", StatusStarted, StatusProcessing, true},
		{"STARTED → COMPLETED", StatusStarted, StatusCompleted, false},
		{"STARTED → COMPENSATING", StatusStarted, StatusCompensating, false},
		{"PROCESSING → COMPLETED", StatusProcessing, StatusCompleted, true},
		{"PROCESSING → COMPENSATING", StatusProcessing, StatusCompensating, true},
		{"PROCESSING → FAILED", StatusProcessing, StatusFailed, false},
		{"COMPENSATING → COMPENSATED", StatusCompensating, StatusCompensated, true},
		{"COMPENSATING → FAILED", StatusCompensating, StatusFailed, true},
		{"COMPENSATING → PROCESSING", StatusCompensating, StatusProcessing, false},
		{"COMPLETED → PROCESSING", StatusCompleted, StatusProcessing, false},
		{"COMPENSATED → COMPENSATING", StatusCompensated, StatusCompensating, false},
		{"FAILED → PROCESSING", StatusFailed, StatusProcessing, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := &Instance{Status: tt.from}
			assert.Equal(t, tt.canDo, inst.CanTransitionTo(tt.to))
		})
	}
}

func TestInstance_TransitionTo(t *testing.T) {
	t.Run("успешный переход", func(t *testing.T) {
		inst := &Instance{Status: StatusStarted}

		err := inst.TransitionTo(StatusProcessing)

		require.NoError(t, err)
		assert.Equal(t, StatusProcessing, inst.Status)
		assert.False(t, inst.UpdatedAt.IsZero())
	})

	t.Run("недопустимый переход", func(t *testing.T) {
		inst := &Instance{Status: StatusStarted}

		err := inst.TransitionTo(StatusCompleted)

		assert.ErrorIs(t, err, ErrInvalidTransition)
		// Состояние не изменилось
		assert.Equal(t, StatusStarted, inst.Status)
	})

	t.Run("переход из терминального состояния", func(t *testing.T) {
		inst := &Instance{Status: StatusCompleted}

		err := inst.TransitionTo(StatusProcessing)

		assert.ErrorIs(t, err, ErrSagaFinished)
		assert.Equal(t, StatusCompleted, inst.Status)
	})
}

func TestInstance_Lifecycle(t *testing.T) {
	t.Run("StartProcessing", func(t *testing.T) {
		inst := &Instance{Status: StatusStarted}

		require.NoError(t, inst.StartProcessing())
		assert.Equal(t, StatusProcessing, inst.Status)
	})

	t.Run("Complete", func(t *testing.T) {
		inst := &Instance{Status: StatusProcessing}

		require.NoError(t, inst.Complete())
		assert.Equal(t, StatusCompleted, inst.Status)
	})

	t.Run("StartCompensation сохраняет причину", func(t *testing.T) {
		inst := &Instance{Status: StatusProcessing}

		require.NoError(t, inst.StartCompensation("платёж отклонён"))

		assert.Equal(t, StatusCompensating, inst.Status)
		require.NotNil(t, inst.FailureReason)
		assert.Equal(t, "платёж отклонён", *inst.FailureReason)
	})

	t.Run("MarkCompensated", func(t *testing.T) {
		inst := &Instance{Status: StatusCompensating}

		require.NoError(t, inst.MarkCompensated())
		assert.Equal(t, StatusCompensated, inst.Status)
	})

	t.Run("Fail помечает провал компенсации", func(t *testing.T) {
		inst := &Instance{Status: StatusCompensating}

		require.NoError(t, inst.Fail())

		assert.Equal(t, StatusFailed, inst.Status)
		assert.True(t, inst.CompensationFailed)
	})

	t.Run("Fail из PROCESSING запрещён", func(t *testing.T) {
		inst := &Instance{Status: StatusProcessing}

		err := inst.Fail()

		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.False(t, inst.CompensationFailed)
	})
}

// =============================================================================
// Тесты контекста саги
// =============================================================================

func TestContext_SetGet(t *testing.T) {
	sagaCtx := NewContext()

	sagaCtx.Set("order_id", "order-123")

	val, ok := sagaCtx.Get("order_id")
	assert.True(t, ok)
	assert.Equal(t, "order-123", val)

	_, ok = sagaCtx.Get("missing")
	assert.False(t, ok)
}

func TestContext_JSON(t *testing.T) {
	type stepPayload struct {
		PaymentID string `json:"paymentId"`
		Amount    string `json:"amount"`
	}

	t.Run("SetJSON и GetJSON", func(t *testing.T) {
		sagaCtx := NewContext()

		require.NoError(t, sagaCtx.SetJSON("payment", stepPayload{PaymentID: "pay-1", Amount: "20000"}))

		var got stepPayload
		require.NoError(t, sagaCtx.GetJSON("payment", &got))
		assert.Equal(t, "pay-1", got.PaymentID)
		assert.Equal(t, "20000", got.Amount)
	})

	t.Run("GetJSON по отсутствующему ключу", func(t *testing.T) {
		sagaCtx := NewContext()

		var got stepPayload
		err := sagaCtx.GetJSON("payment", &got)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "payment")
	})

	t.Run("сериализация контекста обратима", func(t *testing.T) {
		sagaCtx := NewContext()
		sagaCtx.Set("order_id", "order-123")
		require.NoError(t, sagaCtx.SetJSON("payment", stepPayload{PaymentID: "pay-1", Amount: "20000"}))

		data, err := json.Marshal(sagaCtx)
		require.NoError(t, err)

		restored := NewContext()
		require.NoError(t, json.Unmarshal(data, restored))

		val, ok := restored.Get("order_id")
		assert.True(t, ok)
		assert.Equal(t, "order-123", val)

		var got stepPayload
		require.NoError(t, restored.GetJSON("payment", &got))
		assert.Equal(t, "pay-1", got.PaymentID)
	})
}

// =============================================================================
// Тесты реестра определений
// =============================================================================

func TestRegistry(t *testing.T) {
	step := &recordingStep{name: "STEP_1"}

	t.Run("регистрация и получение", func(t *testing.T) {
		registry := NewRegistry()

		require.NoError(t, registry.Register(&Definition{Name: "PAYMENT_SAGA", Steps: []Step{step}}))

		def, err := registry.Get("PAYMENT_SAGA")
		require.NoError(t, err)
		assert.Equal(t, "PAYMENT_SAGA", def.Name)
		assert.Len(t, def.Steps, 1)
	})

	t.Run("повторная регистрация запрещена", func(t *testing.T) {
		registry := NewRegistry()
		require.NoError(t, registry.Register(&Definition{Name: "PAYMENT_SAGA", Steps: []Step{step}}))

		err := registry.Register(&Definition{Name: "PAYMENT_SAGA", Steps: []Step{step}})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "уже зарегистрирована")
	})

	t.Run("определение без имени", func(t *testing.T) {
		registry := NewRegistry()

		err := registry.Register(&Definition{Steps: []Step{step}})

		require.Error(t, err)
	})

	t.Run("определение без шагов", func(t *testing.T) {
		registry := NewRegistry()

		err := registry.Register(&Definition{Name: "EMPTY_SAGA"})

		require.Error(t, err)
	})

	t.Run("неизвестная сага", func(t *testing.T) {
		registry := NewRegistry()

		_, err := registry.Get("UNKNOWN")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "не зарегистрирована")
	})
}

// Полный прогон машины состояний без оркестратора.
func TestInstance_FullCompensationPath(t *testing.T) {
	inst := &Instance{
		ID:        "saga-1",
		Status:    StatusStarted,
		CreatedAt: time.Now(),
	}

	require.NoError(t, inst.StartProcessing())
	require.NoError(t, inst.StartCompensation("шаг PROCESS_PAYMENT провалился"))
	require.NoError(t, inst.MarkCompensated())

	assert.Equal(t, StatusCompensated, inst.Status)
	assert.True(t, inst.Status.IsTerminal())
	require.NotNil(t, inst.FailureReason)
	assert.Equal(t, "шаг PROCESS_PAYMENT провалился", *inst.FailureReason)
}
