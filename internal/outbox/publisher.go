package outbox

import (
	"context"
	"time"

	"example.com/fluxpay/pkg/kafka"
	"example.com/fluxpay/pkg/logger"
	"example.com/fluxpay/pkg/metrics"
)

// Producer — интерфейс для отправки сообщений в Kafka.
// Позволяет замокать kafka.Producer в unit-тестах (Dependency Inversion).
type Producer interface {
	SendMessage(ctx context.Context, msg *kafka.Message) error
}

// DeliveryEnqueuer ставит вебхук-доставки в очередь для опубликованного
// события. Реализуется пакетом webhook, nil отключает fan-out.
type DeliveryEnqueuer interface {
	EnqueueForEvent(ctx context.Context, event *Event) error
}

// PublisherConfig — настройки публикатора outbox.
type PublisherConfig struct {
	// PollInterval — интервал между опросами таблицы outbox.
	PollInterval time.Duration

	// BatchSize — количество событий за один захват.
	BatchSize int

	// MaxRetries — максимальное количество попыток публикации.
	// После превышения событие уходит в DLQ и помечается FAILED.
	MaxRetries int

	// ClaimTimeout — срок, после которого захваченные и не подтверждённые
	// события возвращаются в очередь.
	ClaimTimeout time.Duration

	// RetentionDays — срок хранения опубликованных событий.
	RetentionDays int
}

// DefaultPublisherConfig возвращает конфигурацию по умолчанию.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		PollInterval:  time.Second,
		BatchSize:     100,
		MaxRetries:    3,
		ClaimTimeout:  5 * time.Minute,
		RetentionDays: 7,
	}
}

// Интервалы фоновых задач публикатора.
const (
	// reclaimInterval — интервал возврата зависших IN_FLIGHT событий.
	reclaimInterval = time.Minute

	// cleanupInterval — интервал удаления опубликованных событий.
	cleanupInterval = time.Hour
)

// Бэкофф между попытками публикации.
const (
	baseRetryDelay = time.Second
	maxRetryDelay  = time.Minute
)

// Publisher читает события из outbox и публикует их в Kafka.
// Реализует гарантию at-least-once: событие помечается PUBLISHED только
// после подтверждения брокера. После подтверждения публикатор ставит
// вебхук-доставки подписчикам.
type Publisher struct {
	repo     Repository
	producer Producer
	enqueuer DeliveryEnqueuer
	cfg      PublisherConfig
}

// NewPublisher создаёт публикатор outbox. enqueuer может быть nil,
// тогда fan-out вебхуков отключён.
func NewPublisher(repo Repository, producer Producer, enqueuer DeliveryEnqueuer, cfg PublisherConfig) *Publisher {
	def := DefaultPublisherConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = def.ClaimTimeout
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = def.RetentionDays
	}

	return &Publisher{
		repo:     repo,
		producer: producer,
		enqueuer: enqueuer,
		cfg:      cfg,
	}
}

// Run запускает публикатор. Блокирует выполнение до отмены контекста.
func (p *Publisher) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("poll_interval", p.cfg.PollInterval).
		Int("batch_size", p.cfg.BatchSize).
		Int("max_retries", p.cfg.MaxRetries).
		Msg("Запуск Outbox Publisher")

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	reclaimTicker := time.NewTicker(reclaimInterval)
	defer reclaimTicker.Stop()

	cleanupTicker := time.NewTicker(cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка Outbox Publisher")
			return
		case <-ticker.C:
			p.publishBatch(ctx)
		case <-reclaimTicker.C:
			p.reclaimExpired(ctx)
			p.updatePendingGauge(ctx)
		case <-cleanupTicker.C:
			p.cleanupPublished(ctx)
		}
	}
}

// publishBatch захватывает и публикует пачку событий.
// Ошибка одного события не прерывает обработку остальных.
func (p *Publisher) publishBatch(ctx context.Context) {
	log := logger.FromContext(ctx)

	start := time.Now()
	events, err := p.repo.ClaimBatch(ctx, p.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка захвата событий outbox")
		return
	}

	if len(events) == 0 {
		return
	}

	log.Debug().Int("count", len(events)).Msg("Публикация событий outbox")

	for _, event := range events {
		// Захваченные, но не обработанные события вернёт reclaim.
		select {
		case <-ctx.Done():
			return
		default:
		}

		p.publishOne(ctx, event)
	}

	metrics.OutboxPublishDuration.Observe(time.Since(start).Seconds())
}

// publishOne отправляет одно событие в Kafka и, после подтверждения,
// ставит вебхук-доставки подписчикам.
func (p *Publisher) publishOne(ctx context.Context, event *Event) {
	log := logger.FromContext(ctx)

	if err := p.producer.SendMessage(ctx, brokerMessage(event, kafka.TopicEvents)); err != nil {
		p.handleFailure(ctx, event, err)
		return
	}

	if err := p.repo.MarkPublished(ctx, event.Seq); err != nil {
		// Событие уйдёт повторно после reclaim, подписчики обязаны
		// дедуплицировать по event-id.
		log.Error().Err(err).
			Int64("seq", event.Seq).
			Str("event_id", event.EventID).
			Msg("Ошибка пометки события опубликованным")
		return
	}

	metrics.OutboxPublishedTotal.WithLabelValues("published").Inc()
	log.Debug().
		Int64("seq", event.Seq).
		Str("event_id", event.EventID).
		Str("event_type", event.EventType).
		Msg("Событие опубликовано")

	if p.enqueuer != nil {
		if err := p.enqueuer.EnqueueForEvent(ctx, event); err != nil {
			log.Error().Err(err).
				Str("event_id", event.EventID).
				Msg("Ошибка постановки вебхук-доставок")
		}
	}
}

// handleFailure планирует повтор или отправляет событие в DLQ.
func (p *Publisher) handleFailure(ctx context.Context, event *Event, sendErr error) {
	log := logger.FromContext(ctx)

	attempts := event.RetryCount + 1
	if attempts < p.cfg.MaxRetries {
		next := time.Now().Add(retryDelay(event.RetryCount))
		if err := p.repo.Reschedule(ctx, event.Seq, sendErr, next); err != nil {
			log.Error().Err(err).Int64("seq", event.Seq).Msg("Ошибка планирования повтора")
			return
		}

		metrics.OutboxPublishedTotal.WithLabelValues("retried").Inc()
		log.Warn().Err(sendErr).
			Int64("seq", event.Seq).
			Str("event_id", event.EventID).
			Int("attempt", attempts).
			Time("next_attempt_at", next).
			Msg("Публикация не удалась, событие вернётся в очередь")
		return
	}

	// Копия события уходит в DLQ соответствующего типа, оригинал остаётся
	// в таблице со статусом FAILED для ручного разбора.
	dlqMsg := brokerMessage(event, kafka.DLQTopic(event.EventType))
	if err := p.producer.SendMessage(ctx, dlqMsg); err != nil {
		log.Error().Err(err).
			Int64("seq", event.Seq).
			Str("topic", dlqMsg.Topic).
			Msg("Ошибка отправки события в DLQ")
	}

	if err := p.repo.MarkFailed(ctx, event.Seq, sendErr); err != nil {
		log.Error().Err(err).Int64("seq", event.Seq).Msg("Ошибка пометки события FAILED")
		return
	}

	metrics.OutboxPublishedTotal.WithLabelValues("failed").Inc()
	log.Error().Err(sendErr).
		Int64("seq", event.Seq).
		Str("event_id", event.EventID).
		Str("event_type", event.EventType).
		Int("attempt", attempts).
		Msg("Событие исчерпало попытки публикации и отправлено в DLQ")
}

// reclaimExpired возвращает в очередь события, захваченные упавшим публикатором.
func (p *Publisher) reclaimExpired(ctx context.Context) {
	log := logger.FromContext(ctx)

	claimedBefore := time.Now().Add(-p.cfg.ClaimTimeout)
	reclaimed, err := p.repo.ReclaimExpired(ctx, claimedBefore)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка возврата зависших событий outbox")
		return
	}

	if reclaimed > 0 {
		log.Warn().Int64("count", reclaimed).Msg("Зависшие события outbox возвращены в очередь")
	}
}

// cleanupPublished удаляет опубликованные события старше срока хранения.
func (p *Publisher) cleanupPublished(ctx context.Context) {
	log := logger.FromContext(ctx)

	before := time.Now().AddDate(0, 0, -p.cfg.RetentionDays)
	deleted, err := p.repo.DeletePublishedBefore(ctx, before)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка очистки outbox")
		return
	}

	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("Очистка опубликованных событий outbox")
	}
}

// updatePendingGauge обновляет метрику очереди outbox.
func (p *Publisher) updatePendingGauge(ctx context.Context) {
	pending, err := p.repo.CountPending(ctx)
	if err != nil {
		return
	}
	metrics.OutboxPendingGauge.Set(float64(pending))
}

// brokerMessage собирает сообщение Kafka из события outbox.
// Ключ сообщения — ID агрегата, порядок внутри агрегата сохраняется.
func brokerMessage(event *Event, topic string) *kafka.Message {
	return &kafka.Message{
		Topic: topic,
		Key:   []byte(event.AggregateID),
		Value: event.Payload,
		Headers: map[string]string{
			kafka.HeaderEventID:   event.EventID,
			kafka.HeaderEventType: event.EventType,
			kafka.HeaderTenantID:  event.TenantID,
		},
	}
}

// retryDelay возвращает экспоненциальную задержку перед повтором.
func retryDelay(retryCount int) time.Duration {
	delay := baseRetryDelay << retryCount
	if delay > maxRetryDelay || delay <= 0 {
		delay = maxRetryDelay
	}
	return delay
}
