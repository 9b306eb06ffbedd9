package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// OrderStatus — статус заказа в системе.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, ожидает оплаты.
	OrderStatusPending OrderStatus = "PENDING"

	// OrderStatusPaid — заказ оплачен, платёж подтверждён.
	OrderStatusPaid OrderStatus = "PAID"

	// OrderStatusCompleted — заказ выполнен.
	OrderStatusCompleted OrderStatus = "COMPLETED"

	// OrderStatusCancelled — заказ отменён пользователем или компенсацией саги.
	OrderStatusCancelled OrderStatus = "CANCELLED"

	// OrderStatusFailed — заказ не выполнен из-за ошибки.
	OrderStatusFailed OrderStatus = "FAILED"
)

// allowedOrderTransitions определяет валидные переходы состояний заказа.
var allowedOrderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusPaid, OrderStatusCancelled, OrderStatusFailed},
	OrderStatusPaid:    {OrderStatusCompleted, OrderStatusCancelled, OrderStatusFailed},
	// COMPLETED, CANCELLED и FAILED — терминальные состояния
}

// IsTerminal возвращает true, если статус заказа финальный.
func (s OrderStatus) IsTerminal() bool {
	_, ok := allowedOrderTransitions[s]
	return !ok
}

// =============================================================================
// Order — доменная сущность
// =============================================================================

// Order — заказ в системе.
// Это доменная сущность без зависимостей от инфраструктуры (GORM, HTTP).
type Order struct {
	ID          string         // UUID заказа
	TenantID    string         // Тенант-владелец
	UserID      string         // ID пользователя, создавшего заказ
	LineItems   []LineItem     // Позиции заказа
	TotalAmount Money          // Общая сумма, фиксируется при создании
	Status      OrderStatus    // Текущий статус
	Metadata    map[string]any // Произвольные метаданные клиента
	Version     int64          // Версия строки для optimistic lock
	CreatedAt   time.Time      // Дата создания
	UpdatedAt   time.Time      // Дата последнего обновления
	PaidAt      *time.Time     // Момент оплаты (nil до PAID)
	CompletedAt *time.Time     // Момент выполнения (nil до COMPLETED)
}

// NewOrder создаёт заказ в статусе PENDING с зафиксированной суммой.
// Сумма вычисляется как Σ(цена позиции × количество) и больше не меняется.
func NewOrder(tenantID, userID string, currency Currency, items []LineItem, metadata map[string]any) (*Order, error) {
	if !currency.IsValid() {
		return nil, ErrValidation.WithMessage("неподдерживаемая валюта %s", currency)
	}

	order := &Order{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		UserID:    userID,
		LineItems: items,
		Status:    OrderStatusPending,
		Metadata:  metadata,
		Version:   1,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if err := order.Validate(); err != nil {
		return nil, err
	}

	total := ZeroMoney(currency)
	for i := range items {
		items[i].OrderID = order.ID
		if items[i].ID == "" {
			items[i].ID = uuid.NewString()
		}

		lineTotal, err := items[i].Total()
		if err != nil {
			return nil, err
		}

		total, err = total.Add(lineTotal)
		if err != nil {
			return nil, err
		}
	}

	order.TotalAmount = total
	return order, nil
}

// Validate проверяет корректность полей заказа.
func (o *Order) Validate() error {
	if strings.TrimSpace(o.TenantID) == "" {
		return ErrTenantMissing
	}

	if strings.TrimSpace(o.UserID) == "" {
		return ErrValidation.WithMessage("user_id обязателен")
	}

	if len(o.LineItems) == 0 {
		return ErrValidation.WithMessage("заказ должен содержать хотя бы одну позицию")
	}

	for i := range o.LineItems {
		if err := o.LineItems[i].Validate(); err != nil {
			return err
		}
	}

	return nil
}

// Currency возвращает валюту заказа.
func (o *Order) Currency() Currency {
	return o.TotalAmount.Currency
}

// CanTransitionTo проверяет, допустим ли переход в указанное состояние.
func (o *Order) CanTransitionTo(newStatus OrderStatus) bool {
	allowed, ok := allowedOrderTransitions[o.Status]
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
func (o *Order) TransitionTo(newStatus OrderStatus) error {
	if !o.CanTransitionTo(newStatus) {
		return ErrOrderInvalidTransition.WithMessage(
			"недопустимый переход заказа %s -> %s", o.Status, newStatus)
	}
	o.Status = newStatus
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkPaid помечает заказ оплаченным после подтверждения платежа.
func (o *Order) MarkPaid() error {
	if err := o.TransitionTo(OrderStatusPaid); err != nil {
		return err
	}
	now := time.Now().UTC()
	o.PaidAt = &now
	return nil
}

// Complete помечает оплаченный заказ выполненным.
func (o *Order) Complete() error {
	if err := o.TransitionTo(OrderStatusCompleted); err != nil {
		return err
	}
	now := time.Now().UTC()
	o.CompletedAt = &now
	return nil
}

// Cancel отменяет заказ. Используется и компенсацией саги.
func (o *Order) Cancel() error {
	return o.TransitionTo(OrderStatusCancelled)
}

// Fail помечает заказ как неудачный.
func (o *Order) Fail() error {
	return o.TransitionTo(OrderStatusFailed)
}

// =============================================================================
// LineItem — позиция заказа
// =============================================================================

// LineItem — позиция заказа.
type LineItem struct {
	ID          string // UUID позиции
	OrderID     string // ID заказа
	ProductID   string // ID товара во внешней системе
	ProductName string // Название товара (денормализовано для истории)
	Quantity    int64  // Количество единиц
	UnitPrice   Money  // Цена за единицу
}

// Validate проверяет корректность полей позиции.
func (li *LineItem) Validate() error {
	if strings.TrimSpace(li.ProductID) == "" {
		return ErrValidation.WithMessage("product_id обязателен")
	}

	if li.Quantity <= 0 {
		return ErrValidation.WithMessage("количество должно быть больше нуля")
	}

	if !li.UnitPrice.IsPositive() {
		return ErrValidation.WithMessage("цена позиции должна быть больше нуля")
	}

	return nil
}

// Total возвращает стоимость позиции (цена × количество).
func (li *LineItem) Total() (Money, error) {
	return li.UnitPrice.MultiplyInt(li.Quantity)
}
