package saga

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"example.com/fluxpay/internal/tenant"
	"example.com/fluxpay/pkg/logger"
	"example.com/fluxpay/pkg/metrics"
)

// Ошибки исхода саги. Позволяют вызывающему коду отличить откат
// по бизнес-причине от инфраструктурного сбоя.
var (
	// ErrCompensated — шаг провалился, выполненные шаги откачены.
	ErrCompensated = errors.New("сага откатилась")

	// ErrCompensationFailed — компенсация исчерпала попытки, сага в FAILED.
	ErrCompensationFailed = errors.New("компенсация саги не удалась")
)

// Config — настройки оркестратора.
type Config struct {
	// Timeout — общий лимит саги от создания до COMPLETED.
	Timeout time.Duration

	// StepTimeout — лимит одного вызова Execute или Compensate.
	StepTimeout time.Duration

	// CompensationMaxRetries — число повторов неудачной компенсации шага.
	CompensationMaxRetries int

	// CompensationRetryDelay — фиксированная пауза между повторами.
	CompensationRetryDelay time.Duration

	// LeaseDuration — срок lease, продлевается при каждом сохранении.
	LeaseDuration time.Duration
}

// DefaultConfig возвращает настройки по умолчанию.
func DefaultConfig() Config {
	return Config{
		Timeout:                30 * time.Second,
		StepTimeout:            10 * time.Second,
		CompensationMaxRetries: 3,
		CompensationRetryDelay: time.Second,
		LeaseDuration:          time.Minute,
	}
}

// =============================================================================
// Orchestrator — исполнитель саг
// =============================================================================

// Orchestrator выполняет саги из реестра, фиксируя каждый переход в БД.
type Orchestrator struct {
	repo     Repository
	registry *Registry
	cfg      Config
	owner    string
}

// NewOrchestrator создаёт оркестратор. Нулевые поля конфигурации
// заменяются значениями по умолчанию.
func NewOrchestrator(repo Repository, registry *Registry, cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = def.StepTimeout
	}
	if cfg.CompensationMaxRetries <= 0 {
		cfg.CompensationMaxRetries = def.CompensationMaxRetries
	}
	if cfg.CompensationRetryDelay <= 0 {
		cfg.CompensationRetryDelay = def.CompensationRetryDelay
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = def.LeaseDuration
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "fluxpay"
	}

	return &Orchestrator{
		repo:     repo,
		registry: registry,
		cfg:      cfg,
		owner:    fmt.Sprintf("%s-%d", host, os.Getpid()),
	}
}

// Owner возвращает идентификатор процесса для lease.
func (o *Orchestrator) Owner() string {
	return o.owner
}

// Run запускает новую сагу и блокируется до её терминального состояния.
// Возвращает экземпляр и ошибку исхода: nil при COMPLETED, ErrCompensated
// при откате, ErrCompensationFailed при провале компенсации.
func (o *Orchestrator) Run(ctx context.Context, sagaType, correlationID string, initial *Context) (*Instance, error) {
	def, err := o.registry.Get(sagaType)
	if err != nil {
		return nil, err
	}

	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}

	if initial == nil {
		initial = NewContext()
	}

	now := time.Now()
	until := now.Add(o.cfg.LeaseDuration)
	inst := &Instance{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		SagaType:      def.Name,
		CorrelationID: correlationID,
		Status:        StatusStarted,
		Context:       initial,
		Owner:         &o.owner,
		LeasedUntil:   &until,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := o.repo.Create(ctx, inst); err != nil {
		return nil, fmt.Errorf("создание саги: %w", err)
	}

	logger.Ctx(ctx).Info().
		Str("saga_id", inst.ID).
		Str("saga_type", def.Name).
		Str("correlation_id", correlationID).
		Msg("Сага запущена")

	if err := inst.StartProcessing(); err != nil {
		return inst, err
	}
	if err := o.persist(ctx, inst); err != nil {
		return inst, err
	}

	return o.drive(ctx, def, inst)
}

// Resume доводит незавершённую сагу до терминального состояния.
// Вызывается recovery-воркером после захвата lease.
func (o *Orchestrator) Resume(ctx context.Context, inst *Instance) (*Instance, error) {
	def, err := o.registry.Get(inst.SagaType)
	if err != nil {
		return inst, err
	}

	// Шаги выполняются от имени арендатора саги.
	ctx = tenant.WithTenant(ctx, inst.TenantID)

	switch inst.Status {
	case StatusStarted:
		if err := inst.StartProcessing(); err != nil {
			return inst, err
		}
		if err := o.persist(ctx, inst); err != nil {
			return inst, err
		}
		return o.drive(ctx, def, inst)

	case StatusProcessing:
		if time.Since(inst.CreatedAt) >= o.cfg.Timeout {
			return o.compensate(ctx, def, inst, "превышен таймаут саги")
		}
		return o.drive(ctx, def, inst)

	case StatusCompensating:
		return o.runCompensation(ctx, def, inst)

	default:
		return inst, nil
	}
}

// =============================================================================
// Выполнение шагов
// =============================================================================

// drive выполняет шаги начиная с CurrentStep до завершения или первой ошибки.
func (o *Orchestrator) drive(ctx context.Context, def *Definition, inst *Instance) (*Instance, error) {
	log := logger.FromContext(ctx)
	deadline := inst.CreatedAt.Add(o.cfg.Timeout)

	for inst.CurrentStep < len(def.Steps) {
		if err := ctx.Err(); err != nil {
			// Процесс останавливается, сагу доведёт recovery.
			return inst, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			log.Warn().
				Str("saga_id", inst.ID).
				Int("current_step", inst.CurrentStep).
				Msg("Превышен общий таймаут саги, запускаем компенсацию")
			return o.compensate(ctx, def, inst, "превышен таймаут саги")
		}

		i := inst.CurrentStep
		step := def.Steps[i]

		rec := &StepRecord{
			SagaID: inst.ID,
			Index:  i,
			Name:   step.Name(),
			Status: StepStatusPending,
		}
		if err := o.repo.SaveStep(ctx, rec); err != nil {
			return inst, fmt.Errorf("запись шага %s: %w", step.Name(), err)
		}

		stepCtx, cancel := context.WithTimeout(ctx, min(o.cfg.StepTimeout, remaining))
		execErr := step.Execute(stepCtx, inst.Context)
		cancel()

		if execErr != nil {
			msg := execErr.Error()
			rec.Status = StepStatusFailed
			rec.Error = &msg
			if err := o.repo.SaveStep(ctx, rec); err != nil {
				log.Error().Err(err).
					Str("saga_id", inst.ID).
					Str("step", step.Name()).
					Msg("Не удалось записать провал шага")
			}

			log.Warn().Err(execErr).
				Str("saga_id", inst.ID).
				Str("step", step.Name()).
				Msg("Шаг саги провалился, запускаем компенсацию")
			return o.compensate(ctx, def, inst, msg)
		}

		executedAt := time.Now()
		rec.Status = StepStatusExecuted
		rec.ExecutedAt = &executedAt
		if err := o.repo.SaveStep(ctx, rec); err != nil {
			return inst, fmt.Errorf("запись шага %s: %w", step.Name(), err)
		}

		inst.CurrentStep = i + 1
		if err := o.persist(ctx, inst); err != nil {
			return inst, err
		}

		log.Debug().
			Str("saga_id", inst.ID).
			Str("step", step.Name()).
			Msg("Шаг саги выполнен")
	}

	if err := inst.Complete(); err != nil {
		return inst, err
	}
	if err := o.persist(ctx, inst); err != nil {
		return inst, err
	}
	o.observe(inst)

	log.Info().
		Str("saga_id", inst.ID).
		Str("saga_type", inst.SagaType).
		Msg("Сага завершена успешно")

	if def.OnComplete != nil {
		if err := def.OnComplete(ctx, inst.Context); err != nil {
			return inst, fmt.Errorf("обработчик завершения саги: %w", err)
		}
	}

	return inst, nil
}

// =============================================================================
// Компенсация
// =============================================================================

// compensate переводит сагу в COMPENSATING и откатывает выполненные шаги.
func (o *Orchestrator) compensate(ctx context.Context, def *Definition, inst *Instance, reason string) (*Instance, error) {
	if inst.Status != StatusCompensating {
		if err := inst.StartCompensation(reason); err != nil {
			return inst, err
		}
		if err := o.persist(ctx, inst); err != nil {
			return inst, err
		}
	}

	return o.runCompensation(ctx, def, inst)
}

// runCompensation откатывает шаги со статусом EXECUTED в обратном порядке.
// При повторном входе (recovery) уже откаченные шаги пропускаются.
func (o *Orchestrator) runCompensation(ctx context.Context, def *Definition, inst *Instance) (*Instance, error) {
	log := logger.FromContext(ctx)

	records, err := o.repo.GetSteps(ctx, inst.ID)
	if err != nil {
		return inst, fmt.Errorf("чтение шагов саги: %w", err)
	}

	for j := len(records) - 1; j >= 0; j-- {
		rec := records[j]
		if rec.Status != StepStatusExecuted {
			continue
		}
		if rec.Index >= len(def.Steps) {
			// Определение саги могло измениться между релизами.
			continue
		}

		step := def.Steps[rec.Index]
		if err := o.compensateStep(ctx, step, inst); err != nil {
			msg := err.Error()
			rec.Status = StepStatusFailed
			rec.Error = &msg
			if saveErr := o.repo.SaveStep(ctx, rec); saveErr != nil {
				log.Error().Err(saveErr).
					Str("saga_id", inst.ID).
					Str("step", step.Name()).
					Msg("Не удалось записать провал компенсации")
			}

			if failErr := inst.Fail(); failErr != nil {
				return inst, failErr
			}
			if persistErr := o.persist(ctx, inst); persistErr != nil {
				return inst, persistErr
			}
			o.observe(inst)

			log.Error().Err(err).
				Str("saga_id", inst.ID).
				Str("step", step.Name()).
				Msg("Компенсация шага исчерпала попытки, сага переведена в FAILED")
			return inst, fmt.Errorf("%w: шаг %s: %s", ErrCompensationFailed, step.Name(), msg)
		}

		now := time.Now()
		rec.Status = StepStatusCompensated
		rec.CompensatedAt = &now
		if err := o.repo.SaveStep(ctx, rec); err != nil {
			return inst, fmt.Errorf("запись компенсации шага %s: %w", step.Name(), err)
		}

		metrics.SagaCompensationsTotal.WithLabelValues(inst.SagaType, step.Name()).Inc()
	}

	if err := inst.MarkCompensated(); err != nil {
		return inst, err
	}
	if err := o.persist(ctx, inst); err != nil {
		return inst, err
	}
	o.observe(inst)

	reason := ""
	if inst.FailureReason != nil {
		reason = *inst.FailureReason
	}
	log.Info().
		Str("saga_id", inst.ID).
		Str("reason", reason).
		Msg("Сага компенсирована")

	return inst, fmt.Errorf("%w: %s", ErrCompensated, reason)
}

// compensateStep вызывает Compensate с повторами через фиксированную паузу.
func (o *Orchestrator) compensateStep(ctx context.Context, step Step, inst *Instance) error {
	log := logger.FromContext(ctx)

	var lastErr error
	for attempt := 0; attempt <= o.cfg.CompensationMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(o.cfg.CompensationRetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		stepCtx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
		lastErr = step.Compensate(stepCtx, inst.Context)
		cancel()

		if lastErr == nil {
			return nil
		}

		log.Warn().Err(lastErr).
			Str("saga_id", inst.ID).
			Str("step", step.Name()).
			Int("attempt", attempt+1).
			Msg("Ошибка компенсации шага")
	}

	return lastErr
}

// persist сохраняет экземпляр, продлевая lease текущего процесса.
func (o *Orchestrator) persist(ctx context.Context, inst *Instance) error {
	until := time.Now().Add(o.cfg.LeaseDuration)
	inst.Owner = &o.owner
	inst.LeasedUntil = &until

	if err := o.repo.Update(ctx, inst); err != nil {
		return fmt.Errorf("сохранение саги %s: %w", inst.ID, err)
	}
	return nil
}

// observe фиксирует метрики терминального состояния.
func (o *Orchestrator) observe(inst *Instance) {
	metrics.SagaTotal.WithLabelValues(inst.SagaType, string(inst.Status)).Inc()
	metrics.SagaDuration.WithLabelValues(inst.SagaType).Observe(time.Since(inst.CreatedAt).Seconds())
}
