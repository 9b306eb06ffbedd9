package service

import (
	"context"
	"fmt"

	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/internal/saga"
	"example.com/fluxpay/pkg/logger"
)

// PaymentSagaName — имя платёжной саги в реестре.
const PaymentSagaName = "PaymentSaga"

// Имена шагов платёжной саги.
const (
	StepCreateOrder    = "CREATE_ORDER"
	StepProcessPayment = "PROCESS_PAYMENT"
)

// compensationFailureReason — причина отказа платежа при компенсации.
const compensationFailureReason = "Saga compensation"

// Ключи контекста платёжной саги.
const (
	sagaKeyInput     = "payment_saga_input"
	sagaKeyOrderID   = "order_id"
	sagaKeyPaymentID = "payment_id"
)

// PaymentSagaInput — входные данные платёжной саги: параметры заказа,
// из которых первый шаг создаёт агрегат.
type PaymentSagaInput struct {
	UserID   string            `json:"userId"`
	Currency domain.Currency   `json:"currency"`
	Items    []domain.LineItem `json:"items"`
	Metadata map[string]any    `json:"metadata,omitempty"`
}

// NewPaymentSagaContext собирает начальный контекст саги из входных данных.
func NewPaymentSagaContext(input PaymentSagaInput) (*saga.Context, error) {
	sagaCtx := saga.NewContext()
	if err := sagaCtx.SetJSON(sagaKeyInput, input); err != nil {
		return nil, fmt.Errorf("сериализация входных данных саги: %w", err)
	}
	return sagaCtx, nil
}

// PaymentSagaOrderID возвращает ID заказа, созданного сагой.
func PaymentSagaOrderID(sagaCtx *saga.Context) (string, bool) {
	return sagaCtx.Get(sagaKeyOrderID)
}

// PaymentSagaPaymentID возвращает ID платежа, созданного сагой.
func PaymentSagaPaymentID(sagaCtx *saga.Context) (string, bool) {
	return sagaCtx.Get(sagaKeyPaymentID)
}

// RegisterPaymentSaga регистрирует платёжную сагу:
// CREATE_ORDER создаёт заказ, PROCESS_PAYMENT создаёт платёж READY.
// Компенсации отменяют заказ и проваливают платёж в обратном порядке.
func RegisterPaymentSaga(registry *saga.Registry, orders OrderService, payments PaymentService) error {
	return registry.Register(&saga.Definition{
		Name: PaymentSagaName,
		Steps: []saga.Step{
			&createOrderStep{orders: orders},
			&processPaymentStep{payments: payments},
		},
		OnComplete: func(ctx context.Context, sagaCtx *saga.Context) error {
			orderID, _ := PaymentSagaOrderID(sagaCtx)
			paymentID, _ := PaymentSagaPaymentID(sagaCtx)
			logger.Ctx(ctx).Info().
				Str("order_id", orderID).
				Str("payment_id", paymentID).
				Msg("Платёжная сага завершена")
			return nil
		},
	})
}

// =============================================================================
// CREATE_ORDER
// =============================================================================

// createOrderStep создаёт заказ по входным данным саги.
type createOrderStep struct {
	orders OrderService
}

func (s *createOrderStep) Name() string {
	return StepCreateOrder
}

// Execute создаёт заказ и кладёт его ID в контекст саги.
func (s *createOrderStep) Execute(ctx context.Context, sagaCtx *saga.Context) error {
	var input PaymentSagaInput
	if err := sagaCtx.GetJSON(sagaKeyInput, &input); err != nil {
		return fmt.Errorf("чтение входных данных саги: %w", err)
	}

	order, err := s.orders.CreateOrder(ctx, input.UserID, input.Currency, input.Items, input.Metadata)
	if err != nil {
		return err
	}

	sagaCtx.Set(sagaKeyOrderID, order.ID)
	return nil
}

// Compensate отменяет созданный заказ. CancelOrder идемпотентен,
// повторная компенсация при восстановлении безопасна.
func (s *createOrderStep) Compensate(ctx context.Context, sagaCtx *saga.Context) error {
	orderID, ok := sagaCtx.Get(sagaKeyOrderID)
	if !ok {
		return nil
	}

	return s.orders.CancelOrder(ctx, orderID)
}

// =============================================================================
// PROCESS_PAYMENT
// =============================================================================

// processPaymentStep создаёт платёж READY для заказа саги.
type processPaymentStep struct {
	payments PaymentService
}

func (s *processPaymentStep) Name() string {
	return StepProcessPayment
}

// Execute создаёт платёж на сумму заказа и кладёт его ID в контекст.
func (s *processPaymentStep) Execute(ctx context.Context, sagaCtx *saga.Context) error {
	orderID, ok := sagaCtx.Get(sagaKeyOrderID)
	if !ok {
		return fmt.Errorf("в контексте саги нет %s", sagaKeyOrderID)
	}

	payment, err := s.payments.CreatePayment(ctx, orderID, domain.Money{})
	if err != nil {
		return err
	}

	sagaCtx.Set(sagaKeyPaymentID, payment.ID)
	return nil
}

// Compensate проваливает созданный платёж. FailPayment идемпотентен.
func (s *processPaymentStep) Compensate(ctx context.Context, sagaCtx *saga.Context) error {
	paymentID, ok := sagaCtx.Get(sagaKeyPaymentID)
	if !ok {
		return nil
	}

	_, err := s.payments.FailPayment(ctx, paymentID, compensationFailureReason)
	return err
}
