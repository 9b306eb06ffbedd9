package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/internal/tenant"
)

// RefundRepository определяет интерфейс для работы с возвратами в БД.
type RefundRepository interface {
	// Create создаёт возврат.
	Create(ctx context.Context, refund *domain.Refund) error

	// GetByID возвращает возврат тенанта по ID.
	GetByID(ctx context.Context, refundID string) (*domain.Refund, error)

	// ListByPaymentID возвращает все возвраты платежа, старые первыми.
	ListByPaymentID(ctx context.Context, paymentID string) ([]*domain.Refund, error)

	// Update обновляет возврат с проверкой версии (optimistic lock).
	Update(ctx context.Context, refund *domain.Refund) error

	// SumCompleted возвращает сумму завершённых возвратов платежа.
	SumCompleted(ctx context.Context, paymentID string, currency domain.Currency) (domain.Money, error)

	// SumActive возвращает сумму не-FAILED возвратов платежа.
	// REQUESTED и PROCESSING резервируют остаток наравне с COMPLETED.
	SumActive(ctx context.Context, paymentID string, currency domain.Currency) (domain.Money, error)

	// CountActive возвращает количество не-FAILED возвратов платежа.
	CountActive(ctx context.Context, paymentID string) (int64, error)

	// ListRequested возвращает возвраты в статусе REQUESTED для фоновой обработки.
	// Системный обход без фильтра тенанта, тенант берётся из строки.
	ListRequested(ctx context.Context, limit int) ([]*domain.Refund, error)
}

// =============================================================================
// GORM модель
// =============================================================================

// RefundModel — GORM модель для таблицы refunds.
type RefundModel struct {
	ID           string          `gorm:"column:id;type:varchar(40);primaryKey"`
	TenantID     string          `gorm:"column:tenant_id;type:varchar(64);not null;index"`
	PaymentID    string          `gorm:"column:payment_id;type:varchar(36);not null;index"`
	Amount       decimal.Decimal `gorm:"column:amount;type:numeric(20,4);not null"`
	Currency     string          `gorm:"column:currency;type:varchar(3);not null"`
	Reason       *string         `gorm:"column:reason;type:text"`
	Status       string          `gorm:"column:status;type:varchar(20);not null;index"`
	PGRefundID   *string         `gorm:"column:pg_refund_id;type:varchar(64)"`
	ErrorMessage *string         `gorm:"column:error_message;type:text"`
	Version      int64           `gorm:"column:version;not null"`
	RequestedAt  time.Time       `gorm:"column:requested_at;autoCreateTime"`
	CompletedAt  *time.Time      `gorm:"column:completed_at"`
}

// TableName возвращает имя таблицы в БД.
func (RefundModel) TableName() string {
	return "refunds"
}

// toDomain конвертирует GORM модель в доменную сущность.
func (m *RefundModel) toDomain() *domain.Refund {
	return &domain.Refund{
		ID:           m.ID,
		TenantID:     m.TenantID,
		PaymentID:    m.PaymentID,
		Amount:       domain.Money{Amount: m.Amount, Currency: domain.Currency(m.Currency)},
		Reason:       m.Reason,
		Status:       domain.RefundStatus(m.Status),
		PGRefundID:   m.PGRefundID,
		ErrorMessage: m.ErrorMessage,
		Version:      m.Version,
		RequestedAt:  m.RequestedAt,
		CompletedAt:  m.CompletedAt,
	}
}

// refundModelFromDomain конвертирует доменную сущность в GORM модель.
func refundModelFromDomain(r *domain.Refund) *RefundModel {
	return &RefundModel{
		ID:           r.ID,
		TenantID:     r.TenantID,
		PaymentID:    r.PaymentID,
		Amount:       r.Amount.Amount,
		Currency:     string(r.Amount.Currency),
		Reason:       r.Reason,
		Status:       string(r.Status),
		PGRefundID:   r.PGRefundID,
		ErrorMessage: r.ErrorMessage,
		Version:      r.Version,
		RequestedAt:  r.RequestedAt,
		CompletedAt:  r.CompletedAt,
	}
}

// =============================================================================
// Реализация репозитория
// =============================================================================

// refundRepository — GORM реализация RefundRepository.
type refundRepository struct {
	db *gorm.DB
}

// NewRefundRepository создаёт репозиторий возвратов.
func NewRefundRepository(db *gorm.DB) RefundRepository {
	return &refundRepository{db: db}
}

// Create создаёт возврат.
func (r *refundRepository) Create(ctx context.Context, refund *domain.Refund) error {
	if _, err := tenant.Require(ctx); err != nil {
		return err
	}

	model := refundModelFromDomain(refund)

	if err := conn(ctx, r.db).Create(model).Error; err != nil {
		return err
	}

	refund.RequestedAt = model.RequestedAt
	return nil
}

// GetByID возвращает возврат тенанта по ID.
func (r *refundRepository) GetByID(ctx context.Context, refundID string) (*domain.Refund, error) {
	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}

	var model RefundModel
	if err := conn(ctx, r.db).
		Where("id = ? AND tenant_id = ?", refundID, tenantID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRefundNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// ListByPaymentID возвращает все возвраты платежа, старые первыми.
func (r *refundRepository) ListByPaymentID(ctx context.Context, paymentID string) ([]*domain.Refund, error) {
	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}

	var models []RefundModel
	if err := conn(ctx, r.db).
		Where("payment_id = ? AND tenant_id = ?", paymentID, tenantID).
		Order("requested_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	refunds := make([]*domain.Refund, 0, len(models))
	for i := range models {
		refunds = append(refunds, models[i].toDomain())
	}

	return refunds, nil
}

// Update обновляет возврат с проверкой версии.
func (r *refundRepository) Update(ctx context.Context, refund *domain.Refund) error {
	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return err
	}

	model := refundModelFromDomain(refund)

	result := conn(ctx, r.db).
		Model(&RefundModel{}).
		Where("id = ? AND tenant_id = ? AND version = ?", model.ID, tenantID, model.Version).
		Updates(map[string]interface{}{
			"status":        model.Status,
			"pg_refund_id":  model.PGRefundID,
			"error_message": model.ErrorMessage,
			"completed_at":  model.CompletedAt,
			"version":       model.Version + 1,
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return domain.ErrVersionConflict
	}

	refund.Version++
	return nil
}

// SumCompleted возвращает сумму завершённых возвратов платежа.
func (r *refundRepository) SumCompleted(ctx context.Context, paymentID string, currency domain.Currency) (domain.Money, error) {
	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return domain.Money{}, err
	}

	var total decimal.NullDecimal
	if err := conn(ctx, r.db).
		Model(&RefundModel{}).
		Select("SUM(amount)").
		Where("payment_id = ? AND tenant_id = ? AND status = ?",
			paymentID, tenantID, string(domain.RefundStatusCompleted)).
		Scan(&total).Error; err != nil {
		return domain.Money{}, err
	}

	if !total.Valid {
		return domain.ZeroMoney(currency), nil
	}

	return domain.Money{Amount: total.Decimal, Currency: currency}, nil
}

// SumActive возвращает сумму не-FAILED возвратов платежа.
func (r *refundRepository) SumActive(ctx context.Context, paymentID string, currency domain.Currency) (domain.Money, error) {
	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return domain.Money{}, err
	}

	var total decimal.NullDecimal
	if err := conn(ctx, r.db).
		Model(&RefundModel{}).
		Select("SUM(amount)").
		Where("payment_id = ? AND tenant_id = ? AND status <> ?",
			paymentID, tenantID, string(domain.RefundStatusFailed)).
		Scan(&total).Error; err != nil {
		return domain.Money{}, err
	}

	if !total.Valid {
		return domain.ZeroMoney(currency), nil
	}

	return domain.Money{Amount: total.Decimal, Currency: currency}, nil
}

// CountActive возвращает количество не-FAILED возвратов платежа.
func (r *refundRepository) CountActive(ctx context.Context, paymentID string) (int64, error) {
	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := conn(ctx, r.db).
		Model(&RefundModel{}).
		Where("payment_id = ? AND tenant_id = ? AND status <> ?",
			paymentID, tenantID, string(domain.RefundStatusFailed)).
		Count(&count).Error; err != nil {
		return 0, err
	}

	return count, nil
}

// ListRequested возвращает возвраты в статусе REQUESTED, старые первыми.
func (r *refundRepository) ListRequested(ctx context.Context, limit int) ([]*domain.Refund, error) {
	var models []RefundModel
	if err := conn(ctx, r.db).
		Where("status = ?", string(domain.RefundStatusRequested)).
		Order("requested_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	refunds := make([]*domain.Refund, 0, len(models))
	for i := range models {
		refunds = append(refunds, models[i].toDomain())
	}

	return refunds, nil
}
