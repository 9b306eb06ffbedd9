package service

import (
	"context"
	"errors"
	"fmt"

	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/internal/pgclient"
	"example.com/fluxpay/internal/repository"
	"example.com/fluxpay/internal/tenant"
	"example.com/fluxpay/pkg/logger"
	"example.com/fluxpay/pkg/metrics"
)

// PaymentService определяет интерфейс бизнес-логики платежей.
type PaymentService interface {
	// CreatePayment создаёт платёж READY для заказа. Нулевая сумма
	// означает сумму заказа; ненулевая обязана с ней совпадать.
	CreatePayment(ctx context.Context, orderID string, amount domain.Money) (*domain.Payment, error)

	// GetPayment возвращает платёж по ID.
	GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error)

	// GetPaymentByOrderID возвращает платёж заказа.
	GetPaymentByOrderID(ctx context.Context, orderID string) (*domain.Payment, error)

	// RequestApproval запрашивает авторизацию у платёжного шлюза.
	// Любой отказ шлюза переводит платёж в FAILED с событием payment.failed.
	RequestApproval(ctx context.Context, paymentID string, method domain.PaymentMethod) (*domain.Payment, error)

	// ConfirmPayment подтверждает авторизованный платёж и помечает
	// заказ оплаченным в той же транзакции.
	ConfirmPayment(ctx context.Context, paymentID string) (*domain.Payment, error)

	// FailPayment переводит платёж в FAILED с указанием причины.
	// Идемпотентен: уже проваленный платёж возвращается как есть.
	FailPayment(ctx context.Context, paymentID, reason string) (*domain.Payment, error)
}

// paymentService — реализация PaymentService.
type paymentService struct {
	tx       TxRunner
	payments repository.PaymentRepository
	orders   repository.OrderRepository
	events   EventAppender
	gateway  pgclient.Client
}

// NewPaymentService создаёт сервис платежей.
func NewPaymentService(tx TxRunner, payments repository.PaymentRepository, orders repository.OrderRepository, events EventAppender, gateway pgclient.Client) PaymentService {
	return &paymentService{
		tx:       tx,
		payments: payments,
		orders:   orders,
		events:   events,
		gateway:  gateway,
	}
}

// CreatePayment создаёт платёж для заказа в статусе PENDING.
func (s *paymentService) CreatePayment(ctx context.Context, orderID string, amount domain.Money) (*domain.Payment, error) {
	log := logger.FromContext(ctx)

	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.Status != domain.OrderStatusPending {
		return nil, domain.ErrOrderAlreadyProcessed.
			WithMessage("заказ %s в статусе %s не принимает платежи", orderID, order.Status)
	}

	if amount.IsZero() {
		amount = order.TotalAmount
	} else if !amount.Equal(order.TotalAmount) {
		return nil, domain.ErrValidation.
			WithMessage("сумма платежа %s не совпадает с суммой заказа %s", amount, order.TotalAmount)
	}

	payment, err := domain.NewPayment(tenantID, orderID, amount)
	if err != nil {
		return nil, err
	}

	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, err
	}

	metrics.PaymentsTotal.WithLabelValues(string(payment.Status)).Inc()
	log.Info().
		Str("payment_id", payment.ID).
		Str("order_id", orderID).
		Str("amount", amount.String()).
		Msg("Платёж создан")

	return payment, nil
}

// GetPayment возвращает платёж по ID.
func (s *paymentService) GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	return s.payments.GetByID(ctx, paymentID)
}

// GetPaymentByOrderID возвращает платёж заказа.
func (s *paymentService) GetPaymentByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	return s.payments.GetByOrderID(ctx, orderID)
}

// RequestApproval запрашивает авторизацию платежа.
// Переход в PROCESSING фиксируется до обращения к шлюзу: при падении
// процесса между сохранением и ответом шлюза платёж добьёт watchdog.
func (s *paymentService) RequestApproval(ctx context.Context, paymentID string, method domain.PaymentMethod) (*domain.Payment, error) {
	log := logger.FromContext(ctx)

	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if err := payment.StartProcessing(method); err != nil {
		return nil, err
	}
	if err := s.payments.Update(ctx, payment); err != nil {
		return nil, translatePaymentUpdateErr(err, paymentID)
	}

	result := s.gateway.RequestApproval(ctx, payment.OrderID, payment.Amount, method)
	if !result.Success {
		if failErr := s.failInTx(ctx, payment, result.ErrorMessage); failErr != nil {
			return nil, failErr
		}
		log.Warn().
			Str("payment_id", paymentID).
			Str("reason", result.ErrorMessage).
			Msg("Платёжный шлюз отклонил авторизацию")
		return nil, domain.ErrPGApprovalFailed.WithMessage("%s", result.ErrorMessage)
	}

	if err := payment.Approve(result.TransactionID, result.PaymentKey); err != nil {
		return nil, err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.payments.Update(ctx, payment); err != nil {
			return err
		}

		// События платежа ключуются по ID заказа: order.* и payment.*
		// одного заказа попадают на одну партицию в исходном порядке
		return appendEvent(ctx, s.events, payment.TenantID,
			domain.AggregatePayment, payment.OrderID,
			domain.EventPaymentApproved, domain.NewPaymentEventData(payment))
	})
	if err != nil {
		return nil, translatePaymentUpdateErr(err, paymentID)
	}

	metrics.PaymentsTotal.WithLabelValues(string(payment.Status)).Inc()
	log.Info().
		Str("payment_id", paymentID).
		Str("pg_transaction_id", result.TransactionID).
		Msg("Платёж авторизован")

	return payment, nil
}

// ConfirmPayment подтверждает авторизованный платёж.
func (s *paymentService) ConfirmPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	log := logger.FromContext(ctx)

	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if payment.Status != domain.PaymentStatusApproved {
		return nil, domain.ErrPaymentInvalidTransition.
			WithMessage("подтверждение возможно только из APPROVED, платёж в %s", payment.Status)
	}

	result := s.gateway.ConfirmPayment(ctx, *payment.PGPaymentKey, payment.OrderID, payment.Amount)
	if !result.Success {
		if failErr := s.failInTx(ctx, payment, result.ErrorMessage); failErr != nil {
			return nil, failErr
		}
		log.Warn().
			Str("payment_id", paymentID).
			Str("reason", result.ErrorMessage).
			Msg("Платёжный шлюз отклонил подтверждение")
		return nil, domain.ErrPGConfirmFailed.WithMessage("%s", result.ErrorMessage)
	}

	if err := payment.Confirm(); err != nil {
		return nil, err
	}

	// Платёж, заказ и событие фиксируются атомарно
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.payments.Update(ctx, payment); err != nil {
			return err
		}

		order, err := s.orders.GetByID(ctx, payment.OrderID)
		if err != nil {
			return err
		}
		if order.Status == domain.OrderStatusPending {
			if err := order.MarkPaid(); err != nil {
				return err
			}
			if err := s.orders.Update(ctx, order); err != nil {
				return err
			}
		}

		return appendEvent(ctx, s.events, payment.TenantID,
			domain.AggregatePayment, payment.OrderID,
			domain.EventPaymentConfirmed, domain.NewPaymentEventData(payment))
	})
	if err != nil {
		return nil, translatePaymentUpdateErr(err, paymentID)
	}

	metrics.PaymentsTotal.WithLabelValues(string(payment.Status)).Inc()
	log.Info().
		Str("payment_id", paymentID).
		Str("order_id", payment.OrderID).
		Msg("Платёж подтверждён, заказ оплачен")

	return payment, nil
}

// FailPayment переводит платёж в FAILED.
func (s *paymentService) FailPayment(ctx context.Context, paymentID, reason string) (*domain.Payment, error) {
	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	// Компенсация саги и watchdog могут гнаться за одним платежом
	if payment.Status == domain.PaymentStatusFailed {
		return payment, nil
	}

	if err := s.failInTx(ctx, payment, reason); err != nil {
		return nil, err
	}

	return payment, nil
}

// failInTx переводит платёж в FAILED и пишет payment.failed одной транзакцией.
func (s *paymentService) failInTx(ctx context.Context, payment *domain.Payment, reason string) error {
	if err := payment.Fail(reason); err != nil {
		return err
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.payments.Update(ctx, payment); err != nil {
			return err
		}

		return appendEvent(ctx, s.events, payment.TenantID,
			domain.AggregatePayment, payment.OrderID,
			domain.EventPaymentFailed, domain.NewPaymentEventData(payment))
	})
	if err != nil {
		return translatePaymentUpdateErr(err, payment.ID)
	}

	metrics.PaymentsTotal.WithLabelValues(string(payment.Status)).Inc()
	logger.Ctx(ctx).Info().
		Str("payment_id", payment.ID).
		Str("reason", reason).
		Msg("Платёж помечен неудачным")

	return nil
}

// translatePaymentUpdateErr переводит конфликт версий в доменную ошибку перехода.
func translatePaymentUpdateErr(err error, paymentID string) error {
	if errors.Is(err, domain.ErrVersionConflict) {
		return domain.ErrPaymentInvalidTransition.
			WithMessage("платёж %s изменён конкурентно", paymentID).
			WithCause(err)
	}
	return fmt.Errorf("обновление платежа %s: %w", paymentID, err)
}
