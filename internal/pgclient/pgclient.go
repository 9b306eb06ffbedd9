// Package pgclient инкапсулирует общение с внешним платёжным шлюзом.
//
// Методы клиента не возвращают ошибок: транспортные сбои, таймауты и
// недоступность шлюза сводятся к результату с Success=false и диагностикой
// в ErrorMessage. Ядро переводит такой результат в доменный отказ платежа
// и не разбирает причины на уровне транспорта.
package pgclient

import (
	"context"

	"example.com/fluxpay/internal/domain"
)

// =============================================================================
// Результаты операций шлюза
// =============================================================================

// ApprovalResult — результат запроса одобрения платежа.
type ApprovalResult struct {
	Success       bool
	TransactionID string
	PaymentKey    string
	ErrorMessage  string
}

// ConfirmResult — результат подтверждения платежа.
type ConfirmResult struct {
	Success       bool
	TransactionID string
	ErrorMessage  string
}

// CancelResult — результат отмены платежа.
type CancelResult struct {
	Success       bool
	TransactionID string
	ErrorMessage  string
}

// Client — клиент платёжного шлюза.
type Client interface {
	// RequestApproval запрашивает одобрение оплаты заказа.
	RequestApproval(ctx context.Context, orderID string, amount domain.Money, method domain.PaymentMethod) *ApprovalResult

	// ConfirmPayment подтверждает одобренный платёж по его paymentKey.
	ConfirmPayment(ctx context.Context, paymentKey, orderID string, amount domain.Money) *ConfirmResult

	// CancelPayment отменяет подтверждённый платёж.
	CancelPayment(ctx context.Context, paymentKey, reason string) *CancelResult
}
