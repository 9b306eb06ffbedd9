package service

import (
	"context"
	"fmt"
	"time"

	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/internal/repository"
	"example.com/fluxpay/internal/tenant"
	"example.com/fluxpay/pkg/logger"
	"example.com/fluxpay/pkg/metrics"
)

// RefundPolicy — бизнес-правила возвратов.
type RefundPolicy struct {
	// PeriodDays — окно возврата в днях от момента подтверждения платежа.
	PeriodDays int

	// MaxPartialRefunds — лимит активных возвратов на платёж.
	MaxPartialRefunds int
}

// DefaultRefundPolicy возвращает правила по умолчанию.
func DefaultRefundPolicy() RefundPolicy {
	return RefundPolicy{PeriodDays: 14, MaxPartialRefunds: 3}
}

// RefundService определяет интерфейс бизнес-логики возвратов.
type RefundService interface {
	// CreateRefund создаёт запрос возврата после проверки платежа,
	// окна возврата, остатка суммы и лимита частичных возвратов.
	CreateRefund(ctx context.Context, paymentID string, amount domain.Money, reason string) (*domain.Refund, error)

	// GetRefund возвращает возврат по ID.
	GetRefund(ctx context.Context, refundID string) (*domain.Refund, error)

	// ListRefunds возвращает возвраты платежа.
	ListRefunds(ctx context.Context, paymentID string) ([]*domain.Refund, error)
}

// refundService — реализация RefundService.
type refundService struct {
	tx       TxRunner
	refunds  repository.RefundRepository
	payments repository.PaymentRepository
	events   EventAppender
	policy   RefundPolicy
}

// NewRefundService создаёт сервис возвратов.
func NewRefundService(tx TxRunner, refunds repository.RefundRepository, payments repository.PaymentRepository, events EventAppender, policy RefundPolicy) RefundService {
	def := DefaultRefundPolicy()
	if policy.PeriodDays <= 0 {
		policy.PeriodDays = def.PeriodDays
	}
	if policy.MaxPartialRefunds <= 0 {
		policy.MaxPartialRefunds = def.MaxPartialRefunds
	}

	return &refundService{
		tx:       tx,
		refunds:  refunds,
		payments: payments,
		events:   events,
		policy:   policy,
	}
}

// CreateRefund создаёт возврат в статусе REQUESTED.
// Проверки выполняются строго по порядку: платёж не найден, платёж не
// подтверждён, окно возврата истекло, сумма превышает остаток, лимит
// частичных возвратов исчерпан.
func (s *refundService) CreateRefund(ctx context.Context, paymentID string, amount domain.Money, reason string) (*domain.Refund, error) {
	log := logger.FromContext(ctx)

	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}

	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if payment.Status != domain.PaymentStatusConfirmed {
		return nil, domain.ErrInvalidRefundState.
			WithMessage("возврат невозможен: платёж в статусе %s", payment.Status)
	}

	if !payment.WithinRefundPeriod(s.policy.PeriodDays, time.Now().UTC()) {
		return nil, domain.ErrRefundPeriodExpired.
			WithMessage("период возврата %d дней истёк", s.policy.PeriodDays)
	}

	// Остаток считается по всем не-FAILED возвратам: пока первый возврат
	// в REQUESTED или PROCESSING, его сумма уже зарезервирована
	reserved, err := s.refunds.SumActive(ctx, paymentID, payment.Amount.Currency)
	if err != nil {
		return nil, fmt.Errorf("подсчёт зарезервированной суммы: %w", err)
	}

	remaining, err := payment.Amount.Subtract(reserved)
	if err != nil {
		return nil, err
	}

	exceeds, err := amount.GreaterThan(remaining)
	if err != nil {
		return nil, domain.ErrValidation.
			WithMessage("валюта возврата не совпадает с валютой платежа").
			WithCause(err)
	}
	if exceeds {
		return nil, domain.ErrRefundAmountExceeded.
			WithMessage("сумма возврата %s превышает остаток %s", amount, remaining)
	}

	active, err := s.refunds.CountActive(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("подсчёт активных возвратов: %w", err)
	}
	if active >= int64(s.policy.MaxPartialRefunds) {
		return nil, domain.ErrRefundLimitReached.
			WithMessage("достигнут лимит %d возвратов на платёж", s.policy.MaxPartialRefunds)
	}

	refund, err := domain.NewRefund(tenantID, paymentID, amount, reason)
	if err != nil {
		return nil, err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.refunds.Create(ctx, refund); err != nil {
			return err
		}

		return appendEvent(ctx, s.events, tenantID,
			domain.AggregateRefund, refund.ID,
			domain.EventRefundRequested, domain.NewRefundEventData(refund))
	})
	if err != nil {
		return nil, fmt.Errorf("создание возврата: %w", err)
	}

	metrics.RefundsTotal.WithLabelValues(string(refund.Status)).Inc()
	log.Info().
		Str("refund_id", refund.ID).
		Str("payment_id", paymentID).
		Str("amount", amount.String()).
		Msg("Возврат запрошен")

	return refund, nil
}

// GetRefund возвращает возврат по ID.
func (s *refundService) GetRefund(ctx context.Context, refundID string) (*domain.Refund, error) {
	return s.refunds.GetByID(ctx, refundID)
}

// ListRefunds возвращает возвраты платежа.
func (s *refundService) ListRefunds(ctx context.Context, paymentID string) ([]*domain.Refund, error) {
	// Платёж обязан существовать, иначе список пуст не по праву
	if _, err := s.payments.GetByID(ctx, paymentID); err != nil {
		return nil, err
	}

	return s.refunds.ListByPaymentID(ctx, paymentID)
}
