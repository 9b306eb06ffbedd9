package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// State Machine
// =============================================================================

func TestWebhookDelivery_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name      string
		from      WebhookStatus
		to        WebhookStatus
		canChange bool
	}{
		{"PENDING -> SENDING", WebhookStatusPending, WebhookStatusSending, true},
		{"PENDING -> DELIVERED", WebhookStatusPending, WebhookStatusDelivered, false},

		{"SENDING -> DELIVERED", WebhookStatusSending, WebhookStatusDelivered, true},
		{"SENDING -> RETRYING", WebhookStatusSending, WebhookStatusRetrying, true},
		{"SENDING -> FAILED", WebhookStatusSending, WebhookStatusFailed, true},
		{"SENDING -> PENDING", WebhookStatusSending, WebhookStatusPending, false},

		{"RETRYING -> SENDING", WebhookStatusRetrying, WebhookStatusSending, true},
		{"RETRYING -> DELIVERED", WebhookStatusRetrying, WebhookStatusDelivered, false},

		{"DELIVERED -> любой", WebhookStatusDelivered, WebhookStatusSending, false},
		{"FAILED -> любой", WebhookStatusFailed, WebhookStatusSending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &WebhookDelivery{Status: tt.from}
			assert.Equal(t, tt.canChange, d.CanTransitionTo(tt.to))
		})
	}
}

// =============================================================================
// Жизненный цикл доставки
// =============================================================================

func TestWebhookDelivery_Lifecycle(t *testing.T) {
	t.Run("успешная доставка с первой попытки", func(t *testing.T) {
		d := newTestDelivery(t)

		require.NoError(t, d.StartSending())
		assert.Equal(t, WebhookStatusSending, d.Status)
		assert.NotNil(t, d.LastAttemptAt)

		require.NoError(t, d.MarkDelivered())
		assert.Equal(t, WebhookStatusDelivered, d.Status)
		assert.NotNil(t, d.DeliveredAt)
		assert.Nil(t, d.NextRetryAt)
	})

	t.Run("неудачная попытка назначает повтор", func(t *testing.T) {
		d := newTestDelivery(t)
		nextRetry := time.Now().UTC().Add(30 * time.Second)

		require.NoError(t, d.StartSending())
		require.NoError(t, d.RecordFailedAttempt("connection refused", nextRetry))

		assert.Equal(t, WebhookStatusRetrying, d.Status)
		assert.Equal(t, 1, d.RetryCount)
		require.NotNil(t, d.NextRetryAt)
		assert.True(t, d.NextRetryAt.Equal(nextRetry))
		require.NotNil(t, d.LastError)
		assert.Equal(t, "connection refused", *d.LastError)
	})

	t.Run("повтор из RETRYING проходит через SENDING", func(t *testing.T) {
		d := newTestDelivery(t)
		require.NoError(t, d.StartSending())
		require.NoError(t, d.RecordFailedAttempt("timeout", time.Now()))

		require.NoError(t, d.StartSending())
		require.NoError(t, d.MarkDelivered())

		assert.Equal(t, WebhookStatusDelivered, d.Status)
		assert.Equal(t, 1, d.RetryCount)
	})

	t.Run("исчерпание попыток завершает доставку", func(t *testing.T) {
		d := newTestDelivery(t)
		d.MaxRetries = 2

		require.NoError(t, d.StartSending())
		require.NoError(t, d.RecordFailedAttempt("timeout", time.Now()))
		assert.True(t, d.CanRetry())

		require.NoError(t, d.StartSending())
		require.NoError(t, d.RecordFailedAttempt("timeout", time.Now()))
		assert.False(t, d.CanRetry())

		require.NoError(t, d.StartSending())
		require.NoError(t, d.MarkFailed("timeout"))

		assert.Equal(t, WebhookStatusFailed, d.Status)
		assert.Equal(t, 3, d.RetryCount)
		assert.Nil(t, d.NextRetryAt)
	})
}

func TestNewWebhookDelivery(t *testing.T) {
	t.Run("ID получает префикс whk_", func(t *testing.T) {
		d := newTestDelivery(t)
		assert.True(t, strings.HasPrefix(d.ID, "whk_"))
		assert.Equal(t, WebhookStatusPending, d.Status)
	})

	tests := []struct {
		name       string
		tenantID   string
		eventID    string
		targetURL  string
		maxRetries int
	}{
		{"пустой tenant", "", "evt-1", "https://example.com/hook", 5},
		{"пустой event_id", "tenant-a", "", "https://example.com/hook", 5},
		{"пустой target_url", "tenant-a", "evt-1", "", 5},
		{"нулевой max_retries", "tenant-a", "evt-1", "https://example.com/hook", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWebhookDelivery(tt.tenantID, "whs_1", tt.eventID, EventPaymentConfirmed, tt.targetURL, []byte(`{}`), tt.maxRetries)
			assert.Error(t, err)
		})
	}
}

// =============================================================================
// Подписки
// =============================================================================

func TestWebhookSubscription_Matches(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		active    bool
		incoming  string
		want      bool
	}{
		{"точное совпадение", EventPaymentConfirmed, true, EventPaymentConfirmed, true},
		{"другой тип", EventPaymentConfirmed, true, EventRefundCompleted, false},
		{"wildcard принимает всё", "*", true, EventOrderCreated, true},
		{"неактивная подписка не принимает", EventPaymentConfirmed, false, EventPaymentConfirmed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &WebhookSubscription{EventType: tt.eventType, Active: tt.active}
			assert.Equal(t, tt.want, s.Matches(tt.incoming))
		})
	}
}

func TestNewWebhookSubscription(t *testing.T) {
	t.Run("валидная подписка", func(t *testing.T) {
		s, err := NewWebhookSubscription("tenant-a", EventPaymentConfirmed, "https://example.com/hook", "secret-1")

		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(s.ID, "whs_"))
		assert.True(t, s.Active)
	})

	t.Run("не-HTTP URL отклоняется", func(t *testing.T) {
		_, err := NewWebhookSubscription("tenant-a", EventPaymentConfirmed, "ftp://example.com", "secret-1")

		assert.Error(t, err)
	})

	t.Run("пустой секрет отклоняется", func(t *testing.T) {
		_, err := NewWebhookSubscription("tenant-a", EventPaymentConfirmed, "https://example.com/hook", "")

		assert.Error(t, err)
	})
}

// =============================================================================
// Helpers
// =============================================================================

// newTestDelivery создаёт тестовую доставку в статусе PENDING.
func newTestDelivery(t *testing.T) *WebhookDelivery {
	t.Helper()
	d, err := NewWebhookDelivery("tenant-a", "whs_1", "evt-1", EventPaymentConfirmed, "https://example.com/hook", []byte(`{"specversion":"1.0"}`), 5)
	require.NoError(t, err)
	return d
}
