package service

import (
	"context"
	"errors"
	"time"

	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/internal/pgclient"
	"example.com/fluxpay/internal/repository"
	"example.com/fluxpay/internal/tenant"
	"example.com/fluxpay/pkg/logger"
	"example.com/fluxpay/pkg/metrics"
)

// RefundProcessorConfig — настройки фонового обработчика возвратов.
type RefundProcessorConfig struct {
	// Interval — интервал опроса возвратов в статусе REQUESTED.
	Interval time.Duration

	// BatchSize — количество возвратов за один проход.
	BatchSize int
}

// DefaultRefundProcessorConfig возвращает настройки по умолчанию.
func DefaultRefundProcessorConfig() RefundProcessorConfig {
	return RefundProcessorConfig{
		Interval:  5 * time.Second,
		BatchSize: 20,
	}
}

// RefundProcessor выполняет запрошенные возвраты через платёжный шлюз.
// REQUESTED переводится в PROCESSING, после ответа шлюза — в COMPLETED
// или FAILED с событием в outbox. Полный возврат суммы переводит
// платёж в REFUNDED.
type RefundProcessor struct {
	tx       TxRunner
	refunds  repository.RefundRepository
	payments repository.PaymentRepository
	events   EventAppender
	gateway  pgclient.Client
	cfg      RefundProcessorConfig
}

// NewRefundProcessor создаёт обработчик возвратов.
func NewRefundProcessor(tx TxRunner, refunds repository.RefundRepository, payments repository.PaymentRepository, events EventAppender, gateway pgclient.Client, cfg RefundProcessorConfig) *RefundProcessor {
	def := DefaultRefundProcessorConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}

	return &RefundProcessor{
		tx:       tx,
		refunds:  refunds,
		payments: payments,
		events:   events,
		gateway:  gateway,
		cfg:      cfg,
	}
}

// Run запускает обработчик. Блокирует выполнение до отмены контекста.
func (p *RefundProcessor) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("interval", p.cfg.Interval).
		Int("batch_size", p.cfg.BatchSize).
		Msg("Запуск Refund Processor")

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка Refund Processor")
			return
		case <-ticker.C:
			if _, err := p.ProcessOnce(ctx); err != nil {
				log.Error().Err(err).Msg("Ошибка прохода обработчика возвратов")
			}
		}
	}
}

// ProcessOnce обрабатывает один батч запрошенных возвратов.
// Возвращает количество возвратов, доведённых до терминального статуса.
func (p *RefundProcessor) ProcessOnce(ctx context.Context) (int, error) {
	requested, err := p.refunds.ListRequested(ctx, p.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, refund := range requested {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}

		// Воркер работает вне HTTP-запроса, тенант берётся из строки
		refundCtx := tenant.WithTenant(ctx, refund.TenantID)
		if err := p.process(refundCtx, refund); err != nil {
			logger.Ctx(ctx).Error().Err(err).
				Str("refund_id", refund.ID).
				Msg("Ошибка обработки возврата")
			continue
		}
		processed++
	}

	return processed, nil
}

// process выполняет один возврат от REQUESTED до терминального статуса.
func (p *RefundProcessor) process(ctx context.Context, refund *domain.Refund) error {
	log := logger.FromContext(ctx)

	// Optimistic lock на переходе в PROCESSING: конкурирующий воркер,
	// успевший первым, делает остальных неуспешными без блокировок
	if err := refund.StartProcessing(); err != nil {
		return err
	}
	if err := p.refunds.Update(ctx, refund); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			log.Debug().Str("refund_id", refund.ID).Msg("Возврат уже взят другим воркером")
			return nil
		}
		return err
	}

	payment, err := p.payments.GetByID(ctx, refund.PaymentID)
	if err != nil {
		return err
	}

	if payment.PGPaymentKey == nil {
		return p.fail(ctx, refund, "платёж без ключа платёжного шлюза")
	}

	reason := "возврат по запросу клиента"
	if refund.Reason != nil {
		reason = *refund.Reason
	}

	result := p.gateway.CancelPayment(ctx, *payment.PGPaymentKey, reason)
	if !result.Success {
		return p.fail(ctx, refund, result.ErrorMessage)
	}

	err = p.complete(ctx, refund, payment, result.TransactionID)
	if errors.Is(err, domain.ErrRefundAmountExceeded) {
		return p.fail(ctx, refund, "сумма возврата превышает остаток платежа")
	}
	return err
}

// complete завершает возврат и при полном возврате суммы
// переводит платёж в REFUNDED.
func (p *RefundProcessor) complete(ctx context.Context, refund *domain.Refund, payment *domain.Payment, pgRefundID string) error {
	err := p.tx.WithinTx(ctx, func(ctx context.Context) error {
		// Повторная проверка остатка в транзакции завершения: параллельный
		// возврат мог успеть завершиться после проверки при создании
		refunded, err := p.refunds.SumCompleted(ctx, payment.ID, payment.Amount.Currency)
		if err != nil {
			return err
		}

		remaining, err := payment.Amount.Subtract(refunded)
		if err != nil {
			return err
		}

		exceeds, err := refund.Amount.GreaterThan(remaining)
		if err != nil {
			return err
		}
		if exceeds {
			return domain.ErrRefundAmountExceeded.
				WithMessage("сумма возврата %s превышает остаток %s", refund.Amount, remaining)
		}

		if err := refund.Complete(pgRefundID); err != nil {
			return err
		}
		if err := p.refunds.Update(ctx, refund); err != nil {
			return err
		}

		if err := appendEvent(ctx, p.events, refund.TenantID,
			domain.AggregateRefund, refund.ID,
			domain.EventRefundCompleted, domain.NewRefundEventData(refund)); err != nil {
			return err
		}

		total, err := refunded.Add(refund.Amount)
		if err != nil {
			return err
		}
		if !total.Equal(payment.Amount) {
			return nil
		}

		if err := payment.MarkRefunded(); err != nil {
			return err
		}
		return p.payments.Update(ctx, payment)
	})
	if err != nil {
		return err
	}

	metrics.RefundsTotal.WithLabelValues(string(refund.Status)).Inc()
	logger.Ctx(ctx).Info().
		Str("refund_id", refund.ID).
		Str("payment_id", payment.ID).
		Str("pg_refund_id", pgRefundID).
		Msg("Возврат выполнен")

	return nil
}

// fail помечает возврат неудачным с событием refund.failed.
func (p *RefundProcessor) fail(ctx context.Context, refund *domain.Refund, message string) error {
	if err := refund.Fail(message); err != nil {
		return err
	}

	err := p.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := p.refunds.Update(ctx, refund); err != nil {
			return err
		}

		return appendEvent(ctx, p.events, refund.TenantID,
			domain.AggregateRefund, refund.ID,
			domain.EventRefundFailed, domain.NewRefundEventData(refund))
	})
	if err != nil {
		return err
	}

	metrics.RefundsTotal.WithLabelValues(string(refund.Status)).Inc()
	logger.Ctx(ctx).Warn().
		Str("refund_id", refund.ID).
		Str("reason", message).
		Msg("Возврат не выполнен")

	return nil
}
