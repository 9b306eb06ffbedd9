package saga

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/internal/tenant"
)

// =============================================================================
// Ошибки репозитория
// =============================================================================

var (
	// ErrSagaNotFound — экземпляр саги не найден.
	ErrSagaNotFound = errors.New("сага не найдена")

	// ErrDuplicateCorrelation — сага с таким correlation id уже запущена
	// в рамках арендатора.
	ErrDuplicateCorrelation = errors.New("сага с таким correlation id уже существует")
)

// =============================================================================
// GORM модели
// =============================================================================

// InstanceModel — GORM модель таблицы saga_instances.
type InstanceModel struct {
	ID                 string     `gorm:"column:id;type:varchar(36);primaryKey"`
	TenantID           string     `gorm:"column:tenant_id;type:varchar(64);not null;uniqueIndex:uq_saga_tenant_correlation"`
	SagaType           string     `gorm:"column:saga_type;type:varchar(50);not null"`
	CorrelationID      string     `gorm:"column:correlation_id;type:varchar(128);not null;uniqueIndex:uq_saga_tenant_correlation"`
	Status             string     `gorm:"column:status;type:varchar(20);not null;index"`
	CurrentStep        int        `gorm:"column:current_step;not null"`
	ContextData        []byte     `gorm:"column:context_data;type:jsonb"`
	FailureReason      *string    `gorm:"column:failure_reason;type:text"`
	CompensationFailed bool       `gorm:"column:compensation_failed;not null"`
	Owner              *string    `gorm:"column:owner;type:varchar(64)"`
	LeasedUntil        *time.Time `gorm:"column:leased_until;index"`
	Version            int64      `gorm:"column:version;not null"`
	CreatedAt          time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;not null"`
}

func (InstanceModel) TableName() string {
	return "saga_instances"
}

func (m *InstanceModel) toDomain() *Instance {
	inst := &Instance{
		ID:                 m.ID,
		TenantID:           m.TenantID,
		SagaType:           m.SagaType,
		CorrelationID:      m.CorrelationID,
		Status:             Status(m.Status),
		CurrentStep:        m.CurrentStep,
		Context:            NewContext(),
		FailureReason:      m.FailureReason,
		CompensationFailed: m.CompensationFailed,
		Owner:              m.Owner,
		LeasedUntil:        m.LeasedUntil,
		Version:            m.Version,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}

	if len(m.ContextData) > 0 {
		// Повреждённый контекст не валит чтение: сага с пустым контекстом
		// упадёт на первом же шаге с внятной ошибкой отсутствия ключа.
		_ = json.Unmarshal(m.ContextData, inst.Context)
	}

	return inst
}

func instanceModelFromDomain(inst *Instance) *InstanceModel {
	model := &InstanceModel{
		ID:                 inst.ID,
		TenantID:           inst.TenantID,
		SagaType:           inst.SagaType,
		CorrelationID:      inst.CorrelationID,
		Status:             string(inst.Status),
		CurrentStep:        inst.CurrentStep,
		FailureReason:      inst.FailureReason,
		CompensationFailed: inst.CompensationFailed,
		Owner:              inst.Owner,
		LeasedUntil:        inst.LeasedUntil,
		Version:            inst.Version,
		CreatedAt:          inst.CreatedAt,
		UpdatedAt:          inst.UpdatedAt,
	}

	if inst.Context != nil {
		if data, err := json.Marshal(inst.Context); err == nil {
			model.ContextData = data
		}
	}

	return model
}

// StepModel — GORM модель таблицы saga_steps.
type StepModel struct {
	SagaID        string     `gorm:"column:saga_id;type:varchar(36);primaryKey"`
	StepIndex     int        `gorm:"column:step_index;primaryKey;autoIncrement:false"`
	Name          string     `gorm:"column:name;type:varchar(100);not null"`
	Status        string     `gorm:"column:status;type:varchar(20);not null"`
	Error         *string    `gorm:"column:error;type:text"`
	ExecutedAt    *time.Time `gorm:"column:executed_at"`
	CompensatedAt *time.Time `gorm:"column:compensated_at"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;not null"`
}

func (StepModel) TableName() string {
	return "saga_steps"
}

func (m *StepModel) toDomain() *StepRecord {
	return &StepRecord{
		SagaID:        m.SagaID,
		Index:         m.StepIndex,
		Name:          m.Name,
		Status:        StepStatus(m.Status),
		Error:         m.Error,
		ExecutedAt:    m.ExecutedAt,
		CompensatedAt: m.CompensatedAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func stepModelFromDomain(rec *StepRecord) *StepModel {
	return &StepModel{
		SagaID:        rec.SagaID,
		StepIndex:     rec.Index,
		Name:          rec.Name,
		Status:        string(rec.Status),
		Error:         rec.Error,
		ExecutedAt:    rec.ExecutedAt,
		CompensatedAt: rec.CompensatedAt,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
}

// =============================================================================
// Repository — интерфейс хранилища саг
// =============================================================================

// Repository определяет методы работы с экземплярами саг и их шагами.
// Записи саги не участвуют в транзакциях вызывающего кода: каждый переход
// состояния коммитится отдельно, иначе recovery не увидит прогресс.
type Repository interface {
	// Create сохраняет новый экземпляр. Возвращает ErrDuplicateCorrelation,
	// если сага с таким correlation id уже есть у арендатора.
	Create(ctx context.Context, inst *Instance) error

	// Update сохраняет состояние экземпляра с optimistic locking.
	Update(ctx context.Context, inst *Instance) error

	// GetByID возвращает экземпляр по ID без фильтра арендатора
	// (нужен recovery-воркеру).
	GetByID(ctx context.Context, id string) (*Instance, error)

	// GetByCorrelationID возвращает экземпляр арендатора по correlation id.
	GetByCorrelationID(ctx context.Context, correlationID string) (*Instance, error)

	// SaveStep создаёт или обновляет запись шага (upsert по saga_id + index).
	SaveStep(ctx context.Context, rec *StepRecord) error

	// GetSteps возвращает записи шагов саги в порядке индексов.
	GetSteps(ctx context.Context, sagaID string) ([]*StepRecord, error)

	// ListStuck возвращает незавершённые саги, не обновлявшиеся с olderThan
	// и без действующего lease.
	ListStuck(ctx context.Context, olderThan time.Time, limit int) ([]*Instance, error)

	// Claim пытается захватить lease на сагу. Возвращает false, если lease
	// уже удерживается другим процессом.
	Claim(ctx context.Context, id, owner string, until time.Time) (bool, error)
}

// repository — GORM реализация Repository.
type repository struct {
	db *gorm.DB
}

// NewRepository создаёт репозиторий саг.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, inst *Instance) error {
	if inst.TenantID == "" {
		return domain.ErrTenantMissing
	}

	model := instanceModelFromDomain(inst)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateCorrelation
		}
		return err
	}
	return nil
}

// Update сохраняет экземпляр, проверяя версию строки.
// При несовпадении версии возвращает domain.ErrVersionConflict.
func (r *repository) Update(ctx context.Context, inst *Instance) error {
	model := instanceModelFromDomain(inst)
	now := time.Now()

	result := r.db.WithContext(ctx).Model(&InstanceModel{}).
		Where("id = ? AND version = ?", inst.ID, inst.Version).
		Updates(map[string]interface{}{
			"status":              model.Status,
			"current_step":        model.CurrentStep,
			"context_data":        model.ContextData,
			"failure_reason":      model.FailureReason,
			"compensation_failed": model.CompensationFailed,
			"owner":               model.Owner,
			"leased_until":        model.LeasedUntil,
			"version":             model.Version + 1,
			"updated_at":          now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrVersionConflict
	}

	inst.Version++
	inst.UpdatedAt = now
	return nil
}

func (r *repository) GetByID(ctx context.Context, id string) (*Instance, error) {
	var model InstanceModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSagaNotFound
		}
		return nil, err
	}
	return model.toDomain(), nil
}

func (r *repository) GetByCorrelationID(ctx context.Context, correlationID string) (*Instance, error) {
	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}

	var model InstanceModel
	err = r.db.WithContext(ctx).
		Where("correlation_id = ? AND tenant_id = ?", correlationID, tenantID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSagaNotFound
		}
		return nil, err
	}
	return model.toDomain(), nil
}

// SaveStep — upsert записи шага. Повторное сохранение после рестарта
// обновляет существующую строку вместо конфликта по первичному ключу.
func (r *repository) SaveStep(ctx context.Context, rec *StepRecord) error {
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	model := stepModelFromDomain(rec)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "saga_id"}, {Name: "step_index"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "error", "executed_at", "compensated_at", "updated_at",
			}),
		}).
		Create(model).Error
}

func (r *repository) GetSteps(ctx context.Context, sagaID string) ([]*StepRecord, error) {
	var models []StepModel
	err := r.db.WithContext(ctx).
		Where("saga_id = ?", sagaID).
		Order("step_index ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	records := make([]*StepRecord, len(models))
	for i := range models {
		records[i] = models[i].toDomain()
	}
	return records, nil
}

func (r *repository) ListStuck(ctx context.Context, olderThan time.Time, limit int) ([]*Instance, error) {
	now := time.Now()
	statuses := []string{string(StatusStarted), string(StatusProcessing), string(StatusCompensating)}

	var models []InstanceModel
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ? AND (leased_until IS NULL OR leased_until < ?)", statuses, olderThan, now).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	instances := make([]*Instance, len(models))
	for i := range models {
		instances[i] = models[i].toDomain()
	}
	return instances, nil
}

// Claim захватывает lease без инкремента версии: захват не меняет
// бизнес-состояние, а последующий Update всё равно проверит версию.
func (r *repository) Claim(ctx context.Context, id, owner string, until time.Time) (bool, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&InstanceModel{}).
		Where("id = ? AND (leased_until IS NULL OR leased_until < ?)", id, now).
		Updates(map[string]interface{}{
			"owner":        owner,
			"leased_until": until,
			"updated_at":   now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// isDuplicateKeyError распознаёт нарушение уникального индекса.
func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "23505")
}
