package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// PaymentStatus — статус платежа в системе.
type PaymentStatus string

const (
	// PaymentStatusReady — платёж создан, ожидает запроса авторизации.
	PaymentStatusReady PaymentStatus = "READY"

	// PaymentStatusProcessing — запрос авторизации отправлен в платёжный шлюз.
	PaymentStatusProcessing PaymentStatus = "PROCESSING"

	// PaymentStatusApproved — платёжный шлюз авторизовал платёж.
	PaymentStatusApproved PaymentStatus = "APPROVED"

	// PaymentStatusConfirmed — платёж подтверждён, средства списаны.
	PaymentStatusConfirmed PaymentStatus = "CONFIRMED"

	// PaymentStatusFailed — платёж не прошёл (отказ шлюза, таймаут, компенсация).
	PaymentStatusFailed PaymentStatus = "FAILED"

	// PaymentStatusRefunded — платёж полностью возвращён.
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// PaymentMethod — метод оплаты.
type PaymentMethod string

const (
	// PaymentMethodCard — банковская карта.
	PaymentMethodCard PaymentMethod = "CARD"

	// PaymentMethodVirtualAccount — виртуальный счёт.
	PaymentMethodVirtualAccount PaymentMethod = "VIRTUAL_ACCOUNT"

	// PaymentMethodTransfer — банковский перевод.
	PaymentMethodTransfer PaymentMethod = "TRANSFER"

	// PaymentMethodMobile — мобильный платёж.
	PaymentMethodMobile PaymentMethod = "MOBILE"
)

// allowedPaymentTransitions определяет валидные переходы состояний платежа.
var allowedPaymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusReady:      {PaymentStatusProcessing, PaymentStatusFailed},
	PaymentStatusProcessing: {PaymentStatusApproved, PaymentStatusFailed},
	PaymentStatusApproved:   {PaymentStatusConfirmed, PaymentStatusFailed},
	PaymentStatusConfirmed:  {PaymentStatusRefunded},
	// FAILED и REFUNDED — терминальные состояния
}

// IsTerminal возвращает true, если статус платежа финальный.
func (s PaymentStatus) IsTerminal() bool {
	_, ok := allowedPaymentTransitions[s]
	return !ok
}

// =============================================================================
// Payment — доменная сущность
// =============================================================================

// Payment — платёж в системе. Для каждого заказа существует не более одного платежа.
type Payment struct {
	ID              string         // UUID платежа
	TenantID        string         // Тенант-владелец
	OrderID         string         // ID связанного заказа (глобально уникален среди платежей)
	Amount          Money          // Сумма платежа
	Status          PaymentStatus  // Текущий статус
	Method          *PaymentMethod // Метод оплаты, заполняется при выходе из READY
	PGTransactionID *string        // ID транзакции платёжного шлюза (с APPROVED)
	PGPaymentKey    *string        // Ключ платежа шлюза для confirm/cancel
	FailureReason   *string        // Причина ошибки (при FAILED)
	Version         int64          // Версия строки для optimistic lock
	CreatedAt       time.Time      // Дата создания
	UpdatedAt       time.Time      // Дата обновления
	ApprovedAt      *time.Time     // Момент авторизации, не очищается
	ConfirmedAt     *time.Time     // Момент подтверждения, не очищается
	FailedAt        *time.Time     // Момент ошибки, не очищается
}

// NewPayment создаёт платёж в статусе READY.
func NewPayment(tenantID, orderID string, amount Money) (*Payment, error) {
	p := &Payment{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		OrderID:   orderID,
		Amount:    amount,
		Status:    PaymentStatusReady,
		Version:   1,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return p, nil
}

// Validate проверяет корректность полей платежа.
func (p *Payment) Validate() error {
	if strings.TrimSpace(p.TenantID) == "" {
		return ErrTenantMissing
	}

	if strings.TrimSpace(p.OrderID) == "" {
		return ErrValidation.WithMessage("order_id обязателен")
	}

	if !p.Amount.Currency.IsValid() {
		return ErrValidation.WithMessage("неподдерживаемая валюта %s", p.Amount.Currency)
	}

	if !p.Amount.IsPositive() {
		return ErrValidation.WithMessage("сумма платежа должна быть больше нуля")
	}

	return nil
}

// CanTransitionTo проверяет, допустим ли переход в указанное состояние.
func (p *Payment) CanTransitionTo(newStatus PaymentStatus) bool {
	allowed, ok := allowedPaymentTransitions[p.Status]
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
func (p *Payment) TransitionTo(newStatus PaymentStatus) error {
	if !p.CanTransitionTo(newStatus) {
		return ErrPaymentInvalidTransition.WithMessage(
			"недопустимый переход платежа %s -> %s", p.Status, newStatus)
	}
	p.Status = newStatus
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// StartProcessing переводит платёж в PROCESSING и фиксирует метод оплаты.
// Метод задаётся ровно один раз, при выходе из READY.
func (p *Payment) StartProcessing(method PaymentMethod) error {
	if method == "" {
		return ErrValidation.WithMessage("метод оплаты обязателен")
	}

	if err := p.TransitionTo(PaymentStatusProcessing); err != nil {
		return err
	}

	p.Method = &method
	return nil
}

// Approve фиксирует авторизацию платёжного шлюза.
func (p *Payment) Approve(pgTransactionID, pgPaymentKey string) error {
	if err := p.TransitionTo(PaymentStatusApproved); err != nil {
		return err
	}

	now := time.Now().UTC()
	p.PGTransactionID = &pgTransactionID
	p.PGPaymentKey = &pgPaymentKey
	p.ApprovedAt = &now
	return nil
}

// Confirm подтверждает авторизованный платёж.
func (p *Payment) Confirm() error {
	if err := p.TransitionTo(PaymentStatusConfirmed); err != nil {
		return err
	}

	now := time.Now().UTC()
	p.ConfirmedAt = &now
	return nil
}

// Fail помечает платёж как неудачный с указанием причины.
// Допустим из READY, PROCESSING и APPROVED.
func (p *Payment) Fail(reason string) error {
	if err := p.TransitionTo(PaymentStatusFailed); err != nil {
		return err
	}

	now := time.Now().UTC()
	p.FailureReason = &reason
	p.FailedAt = &now
	return nil
}

// MarkRefunded переводит платёж в REFUNDED после полного возврата суммы.
func (p *Payment) MarkRefunded() error {
	return p.TransitionTo(PaymentStatusRefunded)
}

// WithinRefundPeriod проверяет, не истёк ли период возврата с момента подтверждения.
func (p *Payment) WithinRefundPeriod(periodDays int, now time.Time) bool {
	if p.ConfirmedAt == nil {
		return false
	}
	deadline := p.ConfirmedAt.AddDate(0, 0, periodDays)
	return !now.After(deadline)
}
