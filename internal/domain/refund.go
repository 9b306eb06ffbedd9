package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// RefundStatus — статус возврата.
type RefundStatus string

const (
	// RefundStatusRequested — возврат создан, ожидает обработки.
	RefundStatusRequested RefundStatus = "REQUESTED"

	// RefundStatusProcessing — возврат отправлен в платёжный шлюз.
	RefundStatusProcessing RefundStatus = "PROCESSING"

	// RefundStatusCompleted — возврат выполнен.
	RefundStatusCompleted RefundStatus = "COMPLETED"

	// RefundStatusFailed — возврат не прошёл.
	RefundStatusFailed RefundStatus = "FAILED"
)

// allowedRefundTransitions определяет валидные переходы состояний возврата.
var allowedRefundTransitions = map[RefundStatus][]RefundStatus{
	RefundStatusRequested:  {RefundStatusProcessing},
	RefundStatusProcessing: {RefundStatusCompleted, RefundStatusFailed},
	// COMPLETED и FAILED — терминальные состояния
}

// IsTerminal возвращает true, если статус возврата финальный.
func (s RefundStatus) IsTerminal() bool {
	_, ok := allowedRefundTransitions[s]
	return !ok
}

// CountsTowardCap возвращает true, если возврат учитывается в лимитах.
// FAILED возвраты не занимают сумму и не входят в лимит количества.
func (s RefundStatus) CountsTowardCap() bool {
	return s != RefundStatusFailed
}

// =============================================================================
// Refund — доменная сущность
// =============================================================================

// Refund — возврат платежа, полный или частичный.
type Refund struct {
	ID           string       // Идентификатор с префиксом ref_
	TenantID     string       // Тенант-владелец
	PaymentID    string       // ID возвращаемого платежа
	Amount       Money        // Сумма возврата
	Reason       *string      // Причина возврата
	Status       RefundStatus // Текущий статус
	PGRefundID   *string      // ID возврата в платёжном шлюзе
	ErrorMessage *string      // Сообщение об ошибке (при FAILED)
	Version      int64        // Версия строки для optimistic lock
	RequestedAt  time.Time    // Дата создания запроса
	CompletedAt  *time.Time   // Момент завершения (nil до COMPLETED)
}

// NewRefundID генерирует идентификатор возврата вида ref_<hex>.
func NewRefundID() string {
	return "ref_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewRefund создаёт возврат в статусе REQUESTED.
// Проверки окна возврата и остатка суммы выполняет сервис возвратов.
func NewRefund(tenantID, paymentID string, amount Money, reason string) (*Refund, error) {
	r := &Refund{
		ID:          NewRefundID(),
		TenantID:    tenantID,
		PaymentID:   paymentID,
		Amount:      amount,
		Status:      RefundStatusRequested,
		Version:     1,
		RequestedAt: time.Now().UTC(),
	}

	if reason != "" {
		r.Reason = &reason
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}

	return r, nil
}

// Validate проверяет корректность полей возврата.
func (r *Refund) Validate() error {
	if strings.TrimSpace(r.TenantID) == "" {
		return ErrTenantMissing
	}

	if strings.TrimSpace(r.PaymentID) == "" {
		return ErrValidation.WithMessage("payment_id обязателен")
	}

	if !r.Amount.IsPositive() {
		return ErrValidation.WithMessage("сумма возврата должна быть больше нуля")
	}

	return nil
}

// CanTransitionTo проверяет, допустим ли переход в указанное состояние.
func (r *Refund) CanTransitionTo(newStatus RefundStatus) bool {
	allowed, ok := allowedRefundTransitions[r.Status]
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
func (r *Refund) TransitionTo(newStatus RefundStatus) error {
	if !r.CanTransitionTo(newStatus) {
		return ErrInvalidRefundState.WithMessage(
			"недопустимый переход возврата %s -> %s", r.Status, newStatus)
	}
	r.Status = newStatus
	return nil
}

// StartProcessing переводит возврат в PROCESSING перед вызовом шлюза.
func (r *Refund) StartProcessing() error {
	return r.TransitionTo(RefundStatusProcessing)
}

// Complete завершает возврат с ID операции шлюза.
func (r *Refund) Complete(pgRefundID string) error {
	if err := r.TransitionTo(RefundStatusCompleted); err != nil {
		return err
	}

	now := time.Now().UTC()
	r.PGRefundID = &pgRefundID
	r.CompletedAt = &now
	return nil
}

// Fail помечает возврат как неудачный.
func (r *Refund) Fail(errorMessage string) error {
	if err := r.TransitionTo(RefundStatusFailed); err != nil {
		return err
	}

	r.ErrorMessage = &errorMessage
	return nil
}
