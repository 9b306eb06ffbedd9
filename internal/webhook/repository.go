package webhook

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/internal/tenant"
)

// ErrDeliveryNotFound — доставка не найдена.
var ErrDeliveryNotFound = errors.New("доставка вебхука не найдена")

// DeliveryRepository определяет методы работы с доставками вебхуков.
type DeliveryRepository interface {
	// CreateBatch создаёт доставки, пропуская дубликаты по
	// (subscription_id, event_id). Повторная публикация события
	// не порождает вторую доставку.
	CreateBatch(ctx context.Context, deliveries []*domain.WebhookDelivery) error

	// GetByID возвращает доставку по ID. Системное чтение без фильтра
	// тенанта, тенант берётся из строки.
	GetByID(ctx context.Context, deliveryID string) (*domain.WebhookDelivery, error)

	// ClaimDue атомарно захватывает готовые к отправке доставки,
	// переводя их в SENDING. Конкурирующие процессы не блокируют
	// друг друга благодаря FOR UPDATE SKIP LOCKED.
	ClaimDue(ctx context.Context, limit int) ([]*domain.WebhookDelivery, error)

	// Update сохраняет результат попытки доставки.
	Update(ctx context.Context, delivery *domain.WebhookDelivery) error
}

// SubscriptionRepository определяет методы работы с подписками.
type SubscriptionRepository interface {
	// Create создаёт подписку тенанта.
	Create(ctx context.Context, sub *domain.WebhookSubscription) error

	// List возвращает подписки тенанта, новые первыми.
	List(ctx context.Context) ([]*domain.WebhookSubscription, error)

	// ListActiveForEvent возвращает активные подписки тенанта,
	// принимающие события указанного типа (включая подписки на "*").
	ListActiveForEvent(ctx context.Context, tenantID, eventType string) ([]*domain.WebhookSubscription, error)

	// GetSecret возвращает секрет подписки для подписи доставки.
	GetSecret(ctx context.Context, subscriptionID string) (string, error)
}

// =============================================================================
// GORM модели
// =============================================================================

// DeliveryModel — GORM модель таблицы webhooks.
type DeliveryModel struct {
	ID             string     `gorm:"column:id;type:varchar(40);primaryKey"`
	TenantID       string     `gorm:"column:tenant_id;type:varchar(64);not null;index"`
	SubscriptionID string     `gorm:"column:subscription_id;type:varchar(40);not null;uniqueIndex:uq_webhook_sub_event"`
	EventID        string     `gorm:"column:event_id;type:varchar(36);not null;uniqueIndex:uq_webhook_sub_event"`
	EventType      string     `gorm:"column:event_type;type:varchar(64);not null"`
	Payload        []byte     `gorm:"column:payload;type:jsonb;not null"`
	TargetURL      string     `gorm:"column:target_url;type:varchar(2048);not null"`
	Status         string     `gorm:"column:status;type:varchar(20);not null;index"`
	RetryCount     int        `gorm:"column:retry_count;not null"`
	MaxRetries     int        `gorm:"column:max_retries;not null"`
	LastAttemptAt  *time.Time `gorm:"column:last_attempt_at"`
	NextRetryAt    *time.Time `gorm:"column:next_retry_at;index"`
	LastError      *string    `gorm:"column:last_error;type:text"`
	CreatedAt      time.Time  `gorm:"column:created_at;not null"`
	DeliveredAt    *time.Time `gorm:"column:delivered_at"`
}

// TableName возвращает имя таблицы в БД.
func (DeliveryModel) TableName() string {
	return "webhooks"
}

// toDomain конвертирует GORM модель в доменную сущность.
func (m *DeliveryModel) toDomain() *domain.WebhookDelivery {
	return &domain.WebhookDelivery{
		ID:             m.ID,
		TenantID:       m.TenantID,
		SubscriptionID: m.SubscriptionID,
		EventID:        m.EventID,
		EventType:      m.EventType,
		Payload:        m.Payload,
		TargetURL:      m.TargetURL,
		Status:         domain.WebhookStatus(m.Status),
		RetryCount:     m.RetryCount,
		MaxRetries:     m.MaxRetries,
		LastAttemptAt:  m.LastAttemptAt,
		NextRetryAt:    m.NextRetryAt,
		LastError:      m.LastError,
		CreatedAt:      m.CreatedAt,
		DeliveredAt:    m.DeliveredAt,
	}
}

// deliveryModelFromDomain конвертирует доменную сущность в GORM модель.
func deliveryModelFromDomain(d *domain.WebhookDelivery) *DeliveryModel {
	return &DeliveryModel{
		ID:             d.ID,
		TenantID:       d.TenantID,
		SubscriptionID: d.SubscriptionID,
		EventID:        d.EventID,
		EventType:      d.EventType,
		Payload:        d.Payload,
		TargetURL:      d.TargetURL,
		Status:         string(d.Status),
		RetryCount:     d.RetryCount,
		MaxRetries:     d.MaxRetries,
		LastAttemptAt:  d.LastAttemptAt,
		NextRetryAt:    d.NextRetryAt,
		LastError:      d.LastError,
		CreatedAt:      d.CreatedAt,
		DeliveredAt:    d.DeliveredAt,
	}
}

// SubscriptionModel — GORM модель таблицы webhook_subscriptions.
type SubscriptionModel struct {
	ID        string    `gorm:"column:id;type:varchar(40);primaryKey"`
	TenantID  string    `gorm:"column:tenant_id;type:varchar(64);not null;index"`
	EventType string    `gorm:"column:event_type;type:varchar(64);not null"`
	TargetURL string    `gorm:"column:target_url;type:varchar(2048);not null"`
	Secret    string    `gorm:"column:secret;type:varchar(128);not null"`
	Active    bool      `gorm:"column:active;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName возвращает имя таблицы в БД.
func (SubscriptionModel) TableName() string {
	return "webhook_subscriptions"
}

// toDomain конвертирует GORM модель в доменную сущность.
func (m *SubscriptionModel) toDomain() *domain.WebhookSubscription {
	return &domain.WebhookSubscription{
		ID:        m.ID,
		TenantID:  m.TenantID,
		EventType: m.EventType,
		TargetURL: m.TargetURL,
		Secret:    m.Secret,
		Active:    m.Active,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// =============================================================================
// Реализация репозитория доставок
// =============================================================================

// deliveryRepository — GORM реализация DeliveryRepository.
type deliveryRepository struct {
	db *gorm.DB
}

// NewDeliveryRepository создаёт репозиторий доставок.
func NewDeliveryRepository(db *gorm.DB) DeliveryRepository {
	return &deliveryRepository{db: db}
}

// CreateBatch создаёт доставки, игнорируя дубликаты по (subscription_id, event_id).
func (r *deliveryRepository) CreateBatch(ctx context.Context, deliveries []*domain.WebhookDelivery) error {
	if len(deliveries) == 0 {
		return nil
	}

	models := make([]*DeliveryModel, 0, len(deliveries))
	for _, d := range deliveries {
		models = append(models, deliveryModelFromDomain(d))
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(models).Error
}

// GetByID возвращает доставку по ID.
func (r *deliveryRepository) GetByID(ctx context.Context, deliveryID string) (*domain.WebhookDelivery, error) {
	var model DeliveryModel
	if err := r.db.WithContext(ctx).
		Where("id = ?", deliveryID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeliveryNotFound
		}
		return nil, err
	}
	return model.toDomain(), nil
}

// claimDueSQL захватывает готовые доставки одной командой: подзапрос
// выбирает кандидатов с блокировкой, пропуская строки других процессов.
const claimDueSQL = `
UPDATE webhooks
SET status = 'SENDING', last_attempt_at = NOW()
WHERE id IN (
    SELECT id FROM webhooks
    WHERE (status = 'PENDING' OR (status = 'RETRYING' AND next_retry_at <= NOW()))
    ORDER BY created_at
    LIMIT ?
    FOR UPDATE SKIP LOCKED
)
RETURNING *`

// ClaimDue атомарно захватывает пачку готовых доставок.
func (r *deliveryRepository) ClaimDue(ctx context.Context, limit int) ([]*domain.WebhookDelivery, error) {
	var models []DeliveryModel
	if err := r.db.WithContext(ctx).Raw(claimDueSQL, limit).Scan(&models).Error; err != nil {
		return nil, err
	}

	deliveries := make([]*domain.WebhookDelivery, len(models))
	for i := range models {
		deliveries[i] = models[i].toDomain()
	}
	return deliveries, nil
}

// Update сохраняет результат попытки доставки.
func (r *deliveryRepository) Update(ctx context.Context, delivery *domain.WebhookDelivery) error {
	model := deliveryModelFromDomain(delivery)

	result := r.db.WithContext(ctx).Model(&DeliveryModel{}).
		Where("id = ?", model.ID).
		Updates(map[string]interface{}{
			"status":          model.Status,
			"retry_count":     model.RetryCount,
			"last_attempt_at": model.LastAttemptAt,
			"next_retry_at":   model.NextRetryAt,
			"last_error":      model.LastError,
			"delivered_at":    model.DeliveredAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// =============================================================================
// Реализация репозитория подписок
// =============================================================================

// subscriptionRepository — GORM реализация SubscriptionRepository.
type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository создаёт репозиторий подписок.
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

// Create создаёт подписку тенанта.
func (r *subscriptionRepository) Create(ctx context.Context, sub *domain.WebhookSubscription) error {
	if _, err := tenant.Require(ctx); err != nil {
		return err
	}

	model := &SubscriptionModel{
		ID:        sub.ID,
		TenantID:  sub.TenantID,
		EventType: sub.EventType,
		TargetURL: sub.TargetURL,
		Secret:    sub.Secret,
		Active:    sub.Active,
		CreatedAt: sub.CreatedAt,
		UpdatedAt: sub.UpdatedAt,
	}

	return r.db.WithContext(ctx).Create(model).Error
}

// List возвращает подписки тенанта, новые первыми.
func (r *subscriptionRepository) List(ctx context.Context) ([]*domain.WebhookSubscription, error) {
	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}

	var models []SubscriptionModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	subs := make([]*domain.WebhookSubscription, len(models))
	for i := range models {
		subs[i] = models[i].toDomain()
	}
	return subs, nil
}

// ListActiveForEvent возвращает активные подписки тенанта на тип события.
// Тенант передаётся явно: fan-out идёт из публикатора вне HTTP-запроса,
// тенант берётся из строки события.
func (r *subscriptionRepository) ListActiveForEvent(ctx context.Context, tenantID, eventType string) ([]*domain.WebhookSubscription, error) {
	var models []SubscriptionModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND active = ? AND (event_type = ? OR event_type = ?)",
			tenantID, true, eventType, "*").
		Find(&models).Error; err != nil {
		return nil, err
	}

	subs := make([]*domain.WebhookSubscription, len(models))
	for i := range models {
		subs[i] = models[i].toDomain()
	}
	return subs, nil
}

// GetSecret возвращает секрет подписки.
func (r *subscriptionRepository) GetSecret(ctx context.Context, subscriptionID string) (string, error) {
	var model SubscriptionModel
	if err := r.db.WithContext(ctx).
		Select("secret").
		Where("id = ?", subscriptionID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrDeliveryNotFound
		}
		return "", err
	}
	return model.Secret, nil
}
