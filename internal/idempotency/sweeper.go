package idempotency

import (
	"context"
	"time"

	"example.com/fluxpay/pkg/logger"
)

// Sweeper периодически удаляет истёкшие записи идемпотентности.
// Redis чистит себя сам по TTL, подметать нужно только Postgres.
type Sweeper struct {
	store    *PostgresStore
	interval time.Duration
}

// NewSweeper создаёт уборщик истёкших записей.
func NewSweeper(store *PostgresStore, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{store: store, interval: interval}
}

// Run запускает уборщик. Блокирует выполнение до отмены контекста.
func (s *Sweeper) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("interval", s.interval).
		Msg("Запуск уборщика ключей идемпотентности")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка уборщика ключей идемпотентности")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep удаляет записи с истёкшим сроком жизни.
func (s *Sweeper) sweep(ctx context.Context) {
	log := logger.FromContext(ctx)

	deleted, err := s.store.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Msg("Ошибка очистки ключей идемпотентности")
		return
	}

	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("Удалены истёкшие ключи идемпотентности")
	}
}
