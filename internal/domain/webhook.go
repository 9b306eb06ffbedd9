package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// WebhookStatus — статус доставки вебхука.
type WebhookStatus string

const (
	// WebhookStatusPending — доставка создана, ожидает отправки.
	WebhookStatusPending WebhookStatus = "PENDING"

	// WebhookStatusSending — доставка выполняется воркером.
	WebhookStatusSending WebhookStatus = "SENDING"

	// WebhookStatusDelivered — подписчик подтвердил получение (2xx).
	WebhookStatusDelivered WebhookStatus = "DELIVERED"

	// WebhookStatusRetrying — доставка не удалась, назначен повтор.
	WebhookStatusRetrying WebhookStatus = "RETRYING"

	// WebhookStatusFailed — попытки исчерпаны или ошибка неустранима.
	WebhookStatusFailed WebhookStatus = "FAILED"
)

// allowedWebhookTransitions определяет валидные переходы статуса доставки.
var allowedWebhookTransitions = map[WebhookStatus][]WebhookStatus{
	WebhookStatusPending:  {WebhookStatusSending},
	WebhookStatusSending:  {WebhookStatusDelivered, WebhookStatusRetrying, WebhookStatusFailed},
	WebhookStatusRetrying: {WebhookStatusSending},
	// DELIVERED и FAILED — терминальные состояния
}

// IsTerminal возвращает true, если статус доставки финальный.
func (s WebhookStatus) IsTerminal() bool {
	_, ok := allowedWebhookTransitions[s]
	return !ok
}

// =============================================================================
// WebhookDelivery — доставка события подписчику
// =============================================================================

// WebhookDelivery — одна доставка события одному подписчику.
// Создаётся публикатором outbox после подтверждения брокера.
type WebhookDelivery struct {
	ID             string        // Идентификатор с префиксом whk_
	TenantID       string        // Тенант-владелец
	SubscriptionID string        // ID подписки-получателя
	EventID        string        // ID события CloudEvents (для дедупликации)
	EventType      string        // Тип события (payment.confirmed и т.д.)
	Payload        []byte        // Тело CloudEvents, отправляется как есть
	TargetURL      string        // URL подписчика
	Status         WebhookStatus // Текущий статус
	RetryCount     int           // Количество неудачных попыток
	MaxRetries     int           // Лимит попыток
	LastAttemptAt  *time.Time    // Момент последней попытки
	NextRetryAt    *time.Time    // Момент следующей попытки (при RETRYING)
	LastError      *string       // Последняя ошибка доставки
	CreatedAt      time.Time     // Дата создания
	DeliveredAt    *time.Time    // Момент успешной доставки
}

// NewWebhookDeliveryID генерирует идентификатор доставки вида whk_<hex>.
func NewWebhookDeliveryID() string {
	return "whk_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewWebhookDelivery создаёт доставку в статусе PENDING.
func NewWebhookDelivery(tenantID, subscriptionID, eventID, eventType, targetURL string, payload []byte, maxRetries int) (*WebhookDelivery, error) {
	d := &WebhookDelivery{
		ID:             NewWebhookDeliveryID(),
		TenantID:       tenantID,
		SubscriptionID: subscriptionID,
		EventID:        eventID,
		EventType:      eventType,
		Payload:        payload,
		TargetURL:      targetURL,
		Status:         WebhookStatusPending,
		MaxRetries:     maxRetries,
		CreatedAt:      time.Now().UTC(),
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}

	return d, nil
}

// Validate проверяет корректность полей доставки.
func (d *WebhookDelivery) Validate() error {
	if strings.TrimSpace(d.TenantID) == "" {
		return ErrTenantMissing
	}

	if strings.TrimSpace(d.EventID) == "" {
		return ErrValidation.WithMessage("event_id обязателен")
	}

	if strings.TrimSpace(d.TargetURL) == "" {
		return ErrValidation.WithMessage("target_url обязателен")
	}

	if d.MaxRetries <= 0 {
		return ErrValidation.WithMessage("max_retries должен быть больше нуля")
	}

	return nil
}

// CanTransitionTo проверяет, допустим ли переход в указанное состояние.
func (d *WebhookDelivery) CanTransitionTo(newStatus WebhookStatus) bool {
	allowed, ok := allowedWebhookTransitions[d.Status]
	if !ok {
		return false // Терминальное состояние
	}
	for _, status := range allowed {
		if status == newStatus {
			return true
		}
	}
	return false
}

// TransitionTo выполняет переход в новое состояние.
func (d *WebhookDelivery) TransitionTo(newStatus WebhookStatus) error {
	if !d.CanTransitionTo(newStatus) {
		return ErrValidation.WithMessage(
			"недопустимый переход доставки %s -> %s", d.Status, newStatus)
	}
	d.Status = newStatus
	return nil
}

// StartSending переводит доставку в SENDING и фиксирует момент попытки.
func (d *WebhookDelivery) StartSending() error {
	if err := d.TransitionTo(WebhookStatusSending); err != nil {
		return err
	}

	now := time.Now().UTC()
	d.LastAttemptAt = &now
	return nil
}

// MarkDelivered завершает доставку после ответа 2xx.
func (d *WebhookDelivery) MarkDelivered() error {
	if err := d.TransitionTo(WebhookStatusDelivered); err != nil {
		return err
	}

	now := time.Now().UTC()
	d.DeliveredAt = &now
	d.NextRetryAt = nil
	return nil
}

// CanRetry возвращает true, если остались попытки доставки.
func (d *WebhookDelivery) CanRetry() bool {
	return d.RetryCount < d.MaxRetries
}

// RecordFailedAttempt фиксирует неудачную попытку и назначает повтор.
func (d *WebhookDelivery) RecordFailedAttempt(deliveryErr string, nextRetryAt time.Time) error {
	if err := d.TransitionTo(WebhookStatusRetrying); err != nil {
		return err
	}

	d.RetryCount++
	d.LastError = &deliveryErr
	d.NextRetryAt = &nextRetryAt
	return nil
}

// MarkFailed завершает доставку после исчерпания попыток или неустранимой ошибки.
func (d *WebhookDelivery) MarkFailed(deliveryErr string) error {
	if err := d.TransitionTo(WebhookStatusFailed); err != nil {
		return err
	}

	d.RetryCount++
	d.LastError = &deliveryErr
	d.NextRetryAt = nil
	return nil
}

// =============================================================================
// WebhookSubscription — подписка на события
// =============================================================================

// WebhookSubscription — регистрация URL подписчика на тип события.
type WebhookSubscription struct {
	ID        string    // Идентификатор с префиксом whs_
	TenantID  string    // Тенант-владелец
	EventType string    // Тип события ("payment.confirmed") или "*" для всех
	TargetURL string    // URL для доставки
	Secret    string    // Секрет для подписи HMAC-SHA256
	Active    bool      // Неактивные подписки не получают события
	CreatedAt time.Time // Дата создания
	UpdatedAt time.Time // Дата обновления
}

// NewWebhookSubscriptionID генерирует идентификатор подписки вида whs_<hex>.
func NewWebhookSubscriptionID() string {
	return "whs_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewWebhookSubscription создаёт активную подписку.
func NewWebhookSubscription(tenantID, eventType, targetURL, secret string) (*WebhookSubscription, error) {
	s := &WebhookSubscription{
		ID:        NewWebhookSubscriptionID(),
		TenantID:  tenantID,
		EventType: eventType,
		TargetURL: targetURL,
		Secret:    secret,
		Active:    true,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return s, nil
}

// Validate проверяет корректность полей подписки.
func (s *WebhookSubscription) Validate() error {
	if strings.TrimSpace(s.TenantID) == "" {
		return ErrTenantMissing
	}

	if strings.TrimSpace(s.EventType) == "" {
		return ErrValidation.WithMessage("event_type обязателен")
	}

	if !strings.HasPrefix(s.TargetURL, "http://") && !strings.HasPrefix(s.TargetURL, "https://") {
		return ErrValidation.WithMessage("target_url должен быть http(s) URL")
	}

	if strings.TrimSpace(s.Secret) == "" {
		return ErrValidation.WithMessage("secret обязателен")
	}

	return nil
}

// Matches возвращает true, если подписка принимает событие указанного типа.
func (s *WebhookSubscription) Matches(eventType string) bool {
	return s.Active && (s.EventType == "*" || s.EventType == eventType)
}
