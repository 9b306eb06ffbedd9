package service

import (
	"context"
	"errors"
	"time"

	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/internal/repository"
	"example.com/fluxpay/internal/tenant"
	"example.com/fluxpay/pkg/logger"
	"example.com/fluxpay/pkg/metrics"
)

// stuckPaymentReason — причина отказа зависшего платежа.
const stuckPaymentReason = "таймаут обработки: ответ платёжного шлюза не получен"

// PaymentWatchdogConfig — настройки наблюдателя за зависшими платежами.
type PaymentWatchdogConfig struct {
	// Interval — интервал опроса.
	Interval time.Duration

	// StuckAfter — срок, после которого PROCESSING считается зависшим.
	StuckAfter time.Duration

	// BatchSize — количество платежей за один проход.
	BatchSize int
}

// DefaultPaymentWatchdogConfig возвращает настройки по умолчанию.
func DefaultPaymentWatchdogConfig() PaymentWatchdogConfig {
	return PaymentWatchdogConfig{
		Interval:   30 * time.Second,
		StuckAfter: 5 * time.Minute,
		BatchSize:  20,
	}
}

// PaymentWatchdog закрывает платежи, зависшие в PROCESSING: процесс мог
// упасть между сохранением статуса и ответом платёжного шлюза.
// Такие платежи переводятся в FAILED с событием payment.failed.
type PaymentWatchdog struct {
	tx       TxRunner
	payments repository.PaymentRepository
	events   EventAppender
	cfg      PaymentWatchdogConfig
}

// NewPaymentWatchdog создаёт наблюдатель за платежами.
func NewPaymentWatchdog(tx TxRunner, payments repository.PaymentRepository, events EventAppender, cfg PaymentWatchdogConfig) *PaymentWatchdog {
	def := DefaultPaymentWatchdogConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = def.StuckAfter
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}

	return &PaymentWatchdog{tx: tx, payments: payments, events: events, cfg: cfg}
}

// Run запускает наблюдатель. Блокирует выполнение до отмены контекста.
func (w *PaymentWatchdog) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("interval", w.cfg.Interval).
		Dur("stuck_after", w.cfg.StuckAfter).
		Msg("Запуск Payment Watchdog")

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка Payment Watchdog")
			return
		case <-ticker.C:
			if _, err := w.SweepOnce(ctx); err != nil {
				log.Error().Err(err).Msg("Ошибка прохода наблюдателя платежей")
			}
		}
	}
}

// SweepOnce закрывает один батч зависших платежей.
// Возвращает количество платежей, переведённых в FAILED.
func (w *PaymentWatchdog) SweepOnce(ctx context.Context) (int, error) {
	stuck, err := w.payments.ListStuckProcessing(ctx, w.cfg.StuckAfter, w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, payment := range stuck {
		if ctx.Err() != nil {
			return failed, ctx.Err()
		}

		paymentCtx := tenant.WithTenant(ctx, payment.TenantID)
		if err := w.failStuck(paymentCtx, payment); err != nil {
			logger.Ctx(ctx).Error().Err(err).
				Str("payment_id", payment.ID).
				Msg("Ошибка закрытия зависшего платежа")
			continue
		}
		failed++
	}

	return failed, nil
}

// failStuck переводит зависший платёж в FAILED.
func (w *PaymentWatchdog) failStuck(ctx context.Context, payment *domain.Payment) error {
	if err := payment.Fail(stuckPaymentReason); err != nil {
		return err
	}

	err := w.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := w.payments.Update(ctx, payment); err != nil {
			return err
		}

		return appendEvent(ctx, w.events, payment.TenantID,
			domain.AggregatePayment, payment.OrderID,
			domain.EventPaymentFailed, domain.NewPaymentEventData(payment))
	})
	if err != nil {
		// Платёж успел уйти из PROCESSING штатным путём
		if errors.Is(err, domain.ErrVersionConflict) {
			return nil
		}
		return err
	}

	metrics.PaymentsTotal.WithLabelValues(string(payment.Status)).Inc()
	logger.Ctx(ctx).Warn().
		Str("payment_id", payment.ID).
		Msg("Зависший платёж закрыт наблюдателем")

	return nil
}
