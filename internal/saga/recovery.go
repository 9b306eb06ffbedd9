package saga

import (
	"context"
	"errors"
	"time"

	"example.com/fluxpay/pkg/logger"
)

// =============================================================================
// RecoveryWorker — восстановление зависших саг
// =============================================================================

// RecoveryConfig — настройки recovery-воркера.
type RecoveryConfig struct {
	// PollInterval — интервал между сканированиями таблицы saga_instances.
	PollInterval time.Duration

	// StuckThreshold — саги, не обновлявшиеся дольше этого времени,
	// считаются зависшими.
	StuckThreshold time.Duration

	// LeaseDuration — срок lease при захвате зависшей саги.
	LeaseDuration time.Duration

	// BatchSize — максимум саг за один проход.
	BatchSize int
}

// DefaultRecoveryConfig возвращает настройки по умолчанию.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		PollInterval:   30 * time.Second,
		StuckThreshold: time.Minute,
		LeaseDuration:  time.Minute,
		BatchSize:      50,
	}
}

// RecoveryWorker периодически сканирует таблицу saga_instances и доводит
// до терминального состояния саги, чей процесс упал: захватывает lease
// и передаёт экземпляр оркестратору через Resume.
type RecoveryWorker struct {
	repo Repository
	orch *Orchestrator
	cfg  RecoveryConfig
}

// NewRecoveryWorker создаёт recovery-воркер.
func NewRecoveryWorker(repo Repository, orch *Orchestrator, cfg RecoveryConfig) *RecoveryWorker {
	def := DefaultRecoveryConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = def.StuckThreshold
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = def.LeaseDuration
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}

	return &RecoveryWorker{repo: repo, orch: orch, cfg: cfg}
}

// Run запускает воркер. Блокирует выполнение до отмены контекста.
// Первый проход выполняется сразу при старте, чтобы саги, зависшие
// до рестарта процесса, не ждали первого тика.
func (w *RecoveryWorker) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("poll_interval", w.cfg.PollInterval).
		Dur("stuck_threshold", w.cfg.StuckThreshold).
		Int("batch_size", w.cfg.BatchSize).
		Msg("Запуск Saga Recovery Worker")

	w.recoverStuck(ctx)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка Saga Recovery Worker")
			return
		case <-ticker.C:
			w.recoverStuck(ctx)
		}
	}
}

// recoverStuck находит зависшие саги и возобновляет их.
func (w *RecoveryWorker) recoverStuck(ctx context.Context) {
	log := logger.FromContext(ctx)

	stuckSince := time.Now().Add(-w.cfg.StuckThreshold)
	stuck, err := w.repo.ListStuck(ctx, stuckSince, w.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка поиска зависших саг")
		return
	}

	if len(stuck) == 0 {
		return
	}

	log.Warn().Int("count", len(stuck)).Msg("Обнаружены зависшие саги, возобновляем")

	for _, inst := range stuck {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.resumeOne(ctx, inst)
	}
}

// resumeOne захватывает lease и возобновляет одну сагу.
func (w *RecoveryWorker) resumeOne(ctx context.Context, inst *Instance) {
	log := logger.FromContext(ctx)

	claimed, err := w.repo.Claim(ctx, inst.ID, w.orch.Owner(), time.Now().Add(w.cfg.LeaseDuration))
	if err != nil {
		log.Error().Err(err).Str("saga_id", inst.ID).Msg("Ошибка захвата lease саги")
		return
	}
	if !claimed {
		// Lease удерживает другой процесс.
		return
	}

	// Перечитываем после захвата: состояние могло уйти вперёд.
	fresh, err := w.repo.GetByID(ctx, inst.ID)
	if err != nil {
		log.Error().Err(err).Str("saga_id", inst.ID).Msg("Ошибка чтения саги после захвата lease")
		return
	}
	if fresh.Status.IsTerminal() {
		return
	}

	log.Warn().
		Str("saga_id", fresh.ID).
		Str("saga_type", fresh.SagaType).
		Str("status", string(fresh.Status)).
		Int("current_step", fresh.CurrentStep).
		Time("updated_at", fresh.UpdatedAt).
		Msg("Возобновление зависшей саги")

	if _, err := w.orch.Resume(ctx, fresh); err != nil {
		// ErrCompensated — нормальный исход возобновления: сага доведена
		// до отката. Остальное — в лог, следующий проход попробует снова.
		if errors.Is(err, ErrCompensated) {
			return
		}
		log.Error().Err(err).Str("saga_id", fresh.ID).Msg("Ошибка возобновления саги")
	}
}
