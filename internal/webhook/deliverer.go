package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/pkg/logger"
	"example.com/fluxpay/pkg/metrics"
)

// defaultHTTPTimeout — таймаут запроса к подписчику по умолчанию.
const defaultHTTPTimeout = 10 * time.Second

// drainLimit ограничивает чтение тела ответа подписчика.
const drainLimit = 4 << 10

// DelivererConfig — настройки доставщика.
type DelivererConfig struct {
	// BaseBackoff — базовая задержка повтора.
	BaseBackoff time.Duration

	// MaxBackoff — потолок задержки повтора.
	MaxBackoff time.Duration

	// HTTPTimeout — таймаут одного запроса к подписчику.
	HTTPTimeout time.Duration
}

// DefaultDelivererConfig возвращает настройки по умолчанию.
func DefaultDelivererConfig() DelivererConfig {
	return DelivererConfig{
		BaseBackoff: 30 * time.Second,
		MaxBackoff:  time.Hour,
		HTTPTimeout: defaultHTTPTimeout,
	}
}

// Deliverer выполняет HTTP-доставку вебхуков с подписью и повторами.
type Deliverer struct {
	deliveries    DeliveryRepository
	subscriptions SubscriptionRepository
	client        *http.Client
	cfg           DelivererConfig
}

// NewDeliverer создаёт доставщик вебхуков.
func NewDeliverer(deliveries DeliveryRepository, subscriptions SubscriptionRepository, cfg DelivererConfig) *Deliverer {
	def := DefaultDelivererConfig()
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = def.HTTPTimeout
	}

	return &Deliverer{
		deliveries:    deliveries,
		subscriptions: subscriptions,
		client:        &http.Client{Timeout: cfg.HTTPTimeout},
		cfg:           cfg,
	}
}

// Deliver выполняет доставку по ID: переводит PENDING/RETRYING в SENDING
// и делает попытку отправки. Доставки в иных статусах пропускаются.
func (d *Deliverer) Deliver(ctx context.Context, deliveryID string) error {
	delivery, err := d.deliveries.GetByID(ctx, deliveryID)
	if err != nil {
		return err
	}

	switch delivery.Status {
	case domain.WebhookStatusPending, domain.WebhookStatusRetrying:
	default:
		return nil
	}

	if err := delivery.StartSending(); err != nil {
		return err
	}
	if err := d.deliveries.Update(ctx, delivery); err != nil {
		return err
	}

	return d.Send(ctx, delivery)
}

// Send выполняет одну попытку отправки доставки в статусе SENDING
// и фиксирует её результат. Вызывается планировщиком для захваченных строк.
func (d *Deliverer) Send(ctx context.Context, delivery *domain.WebhookDelivery) error {
	log := logger.FromContext(ctx)

	start := time.Now()
	status, attemptErr := d.post(ctx, delivery)
	metrics.WebhookDeliveryDuration.Observe(time.Since(start).Seconds())

	if attemptErr == nil {
		if err := delivery.MarkDelivered(); err != nil {
			return err
		}
		if err := d.deliveries.Update(ctx, delivery); err != nil {
			return err
		}

		metrics.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
		log.Debug().
			Str("delivery_id", delivery.ID).
			Str("event_type", delivery.EventType).
			Int("http_status", status).
			Msg("Вебхук доставлен")
		return nil
	}

	if retryableStatus(status) && delivery.CanRetry() {
		next := time.Now().UTC().Add(Backoff(d.cfg.BaseBackoff, d.cfg.MaxBackoff, delivery.RetryCount))
		if err := delivery.RecordFailedAttempt(attemptErr.Error(), next); err != nil {
			return err
		}
		if err := d.deliveries.Update(ctx, delivery); err != nil {
			return err
		}

		metrics.WebhookDeliveriesTotal.WithLabelValues("retrying").Inc()
		log.Warn().Err(attemptErr).
			Str("delivery_id", delivery.ID).
			Int("retry_count", delivery.RetryCount).
			Time("next_retry_at", next).
			Msg("Доставка вебхука не удалась, назначен повтор")
		return nil
	}

	if err := delivery.MarkFailed(attemptErr.Error()); err != nil {
		return err
	}
	if err := d.deliveries.Update(ctx, delivery); err != nil {
		return err
	}

	metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
	log.Error().Err(attemptErr).
		Str("delivery_id", delivery.ID).
		Str("target_url", delivery.TargetURL).
		Int("retry_count", delivery.RetryCount).
		Msg("Доставка вебхука провалена окончательно")
	return nil
}

// post отправляет подписанный POST подписчику.
// Возвращает HTTP-статус ответа (0 при транспортной ошибке) и ошибку попытки.
func (d *Deliverer) post(ctx context.Context, delivery *domain.WebhookDelivery) (int, error) {
	secret, err := d.subscriptions.GetSecret(ctx, delivery.SubscriptionID)
	if err != nil {
		return 0, fmt.Errorf("чтение секрета подписки: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, delivery.TargetURL, bytes.NewReader(delivery.Payload))
	if err != nil {
		return 0, fmt.Errorf("сборка запроса: %w", err)
	}

	ts := Timestamp(time.Now())
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, Sign(secret, ts, delivery.Payload))
	req.Header.Set(HeaderEventID, delivery.EventID)
	req.Header.Set(HeaderEventType, delivery.EventType)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("запрос к подписчику: %w", err)
	}
	defer resp.Body.Close()

	// Тело вычитывается для переиспользования соединения.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, nil
	}

	return resp.StatusCode, fmt.Errorf("подписчик ответил %d", resp.StatusCode)
}

// retryableStatus возвращает true для статусов, при которых повтор имеет смысл.
// Транспортные ошибки (статус 0), таймауты, троттлинг и 5xx повторяются;
// остальные 4xx означают, что подписчик запрос не примет.
func retryableStatus(status int) bool {
	switch {
	case status == 0:
		return true
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}
