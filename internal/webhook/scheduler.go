package webhook

import (
	"context"
	"sync"
	"time"

	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/pkg/logger"
)

// SchedulerConfig — настройки планировщика доставок.
type SchedulerConfig struct {
	// PollInterval — интервал опроса таблицы webhooks.
	PollInterval time.Duration

	// BatchSize — количество доставок за один захват.
	BatchSize int

	// Workers — размер пула воркеров доставки.
	Workers int
}

// DefaultSchedulerConfig возвращает настройки по умолчанию.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PollInterval: 5 * time.Second,
		BatchSize:    50,
		Workers:      4,
	}
}

// Scheduler периодически захватывает готовые к отправке доставки
// (PENDING и RETRYING с наступившим next_retry_at) и раздаёт их
// пулу воркеров.
type Scheduler struct {
	deliveries DeliveryRepository
	deliverer  *Deliverer
	cfg        SchedulerConfig
}

// NewScheduler создаёт планировщик доставок.
func NewScheduler(deliveries DeliveryRepository, deliverer *Deliverer, cfg SchedulerConfig) *Scheduler {
	def := DefaultSchedulerConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}

	return &Scheduler{deliveries: deliveries, deliverer: deliverer, cfg: cfg}
}

// Run запускает планировщик. Блокирует выполнение до отмены контекста.
func (s *Scheduler) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("poll_interval", s.cfg.PollInterval).
		Int("batch_size", s.cfg.BatchSize).
		Int("workers", s.cfg.Workers).
		Msg("Запуск Webhook Scheduler")

	queue := make(chan *domain.WebhookDelivery)

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx, queue)
		}()
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(queue)
			wg.Wait()
			log.Info().Msg("Остановка Webhook Scheduler")
			return
		case <-ticker.C:
			s.dispatchDue(ctx, queue)
		}
	}
}

// dispatchDue захватывает готовые доставки и передаёт их воркерам.
func (s *Scheduler) dispatchDue(ctx context.Context, queue chan<- *domain.WebhookDelivery) {
	log := logger.FromContext(ctx)

	due, err := s.deliveries.ClaimDue(ctx, s.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка захвата доставок вебхуков")
		return
	}

	if len(due) == 0 {
		return
	}

	log.Debug().Int("count", len(due)).Msg("Доставки вебхуков переданы воркерам")

	for _, delivery := range due {
		select {
		case <-ctx.Done():
			return
		case queue <- delivery:
		}
	}
}

// worker обрабатывает доставки из очереди до её закрытия.
func (s *Scheduler) worker(ctx context.Context, queue <-chan *domain.WebhookDelivery) {
	log := logger.FromContext(ctx)

	for delivery := range queue {
		if err := s.deliverer.Send(ctx, delivery); err != nil {
			log.Error().Err(err).
				Str("delivery_id", delivery.ID).
				Msg("Ошибка обработки доставки вебхука")
		}
	}
}
