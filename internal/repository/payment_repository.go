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

// PaymentRepository определяет интерфейс для работы с платежами в БД.
type PaymentRepository interface {
	// Create создаёт платёж. Для заказа допустим только один платёж.
	Create(ctx context.Context, payment *domain.Payment) error

	// GetByID возвращает платёж тенанта по ID.
	GetByID(ctx context.Context, paymentID string) (*domain.Payment, error)

	// GetByOrderID возвращает платёж тенанта по ID заказа.
	GetByOrderID(ctx context.Context, orderID string) (*domain.Payment, error)

	// Update обновляет платёж с проверкой версии (optimistic lock).
	Update(ctx context.Context, payment *domain.Payment) error

	// ListStuckProcessing возвращает платежи, зависшие в PROCESSING.
	// Системный обход без фильтра тенанта, тенант берётся из строки.
	ListStuckProcessing(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Payment, error)
}

// =============================================================================
// GORM модель
// =============================================================================

// PaymentModel — GORM модель для таблицы payments.
type PaymentModel struct {
	ID              string          `gorm:"column:id;type:varchar(36);primaryKey"`
	TenantID        string          `gorm:"column:tenant_id;type:varchar(64);not null;index"`
	OrderID         string          `gorm:"column:order_id;type:varchar(36);not null;uniqueIndex"`
	Amount          decimal.Decimal `gorm:"column:amount;type:numeric(20,4);not null"`
	Currency        string          `gorm:"column:currency;type:varchar(3);not null"`
	Status          string          `gorm:"column:status;type:varchar(20);not null;index"`
	Method          *string         `gorm:"column:method;type:varchar(30)"`
	PGTransactionID *string         `gorm:"column:pg_transaction_id;type:varchar(64)"`
	PGPaymentKey    *string         `gorm:"column:pg_payment_key;type:varchar(64)"`
	FailureReason   *string         `gorm:"column:failure_reason;type:text"`
	Version         int64           `gorm:"column:version;not null"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
	ApprovedAt      *time.Time      `gorm:"column:approved_at"`
	ConfirmedAt     *time.Time      `gorm:"column:confirmed_at"`
	FailedAt        *time.Time      `gorm:"column:failed_at"`
}

// TableName возвращает имя таблицы в БД.
func (PaymentModel) TableName() string {
	return "payments"
}

// toDomain конвертирует GORM модель в доменную сущность.
func (m *PaymentModel) toDomain() *domain.Payment {
	p := &domain.Payment{
		ID:              m.ID,
		TenantID:        m.TenantID,
		OrderID:         m.OrderID,
		Amount:          domain.Money{Amount: m.Amount, Currency: domain.Currency(m.Currency)},
		Status:          domain.PaymentStatus(m.Status),
		PGTransactionID: m.PGTransactionID,
		PGPaymentKey:    m.PGPaymentKey,
		FailureReason:   m.FailureReason,
		Version:         m.Version,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
		ApprovedAt:      m.ApprovedAt,
		ConfirmedAt:     m.ConfirmedAt,
		FailedAt:        m.FailedAt,
	}

	if m.Method != nil {
		method := domain.PaymentMethod(*m.Method)
		p.Method = &method
	}

	return p
}

// paymentModelFromDomain конвертирует доменную сущность в GORM модель.
func paymentModelFromDomain(p *domain.Payment) *PaymentModel {
	model := &PaymentModel{
		ID:              p.ID,
		TenantID:        p.TenantID,
		OrderID:         p.OrderID,
		Amount:          p.Amount.Amount,
		Currency:        string(p.Amount.Currency),
		Status:          string(p.Status),
		PGTransactionID: p.PGTransactionID,
		PGPaymentKey:    p.PGPaymentKey,
		FailureReason:   p.FailureReason,
		Version:         p.Version,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
		ApprovedAt:      p.ApprovedAt,
		ConfirmedAt:     p.ConfirmedAt,
		FailedAt:        p.FailedAt,
	}

	if p.Method != nil {
		method := string(*p.Method)
		model.Method = &method
	}

	return model
}

// =============================================================================
// Реализация репозитория
// =============================================================================

// paymentRepository — GORM реализация PaymentRepository.
type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository создаёт репозиторий платежей.
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

// Create создаёт платёж.
func (r *paymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	if _, err := tenant.Require(ctx); err != nil {
		return err
	}

	model := paymentModelFromDomain(payment)

	if err := conn(ctx, r.db).Create(model).Error; err != nil {
		// Уникальный индекс order_id: второй платёж для заказа невозможен
		if isDuplicateKeyError(err) {
			return domain.ErrPaymentAlreadyExists
		}
		return err
	}

	payment.CreatedAt = model.CreatedAt
	payment.UpdatedAt = model.UpdatedAt
	return nil
}

// GetByID возвращает платёж тенанта по ID.
func (r *paymentRepository) GetByID(ctx context.Context, paymentID string) (*domain.Payment, error) {
	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}

	var model PaymentModel
	if err := conn(ctx, r.db).
		Where("id = ? AND tenant_id = ?", paymentID, tenantID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// GetByOrderID возвращает платёж тенанта по ID заказа.
func (r *paymentRepository) GetByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}

	var model PaymentModel
	if err := conn(ctx, r.db).
		Where("order_id = ? AND tenant_id = ?", orderID, tenantID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// Update обновляет платёж с проверкой версии.
// При несовпадении версии возвращает ErrVersionConflict.
func (r *paymentRepository) Update(ctx context.Context, payment *domain.Payment) error {
	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return err
	}

	model := paymentModelFromDomain(payment)
	now := time.Now().UTC()

	result := conn(ctx, r.db).
		Model(&PaymentModel{}).
		Where("id = ? AND tenant_id = ? AND version = ?", model.ID, tenantID, model.Version).
		Updates(map[string]interface{}{
			"status":            model.Status,
			"method":            model.Method,
			"pg_transaction_id": model.PGTransactionID,
			"pg_payment_key":    model.PGPaymentKey,
			"failure_reason":    model.FailureReason,
			"approved_at":       model.ApprovedAt,
			"confirmed_at":      model.ConfirmedAt,
			"failed_at":         model.FailedAt,
			"version":           model.Version + 1,
			"updated_at":        now,
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return domain.ErrVersionConflict
	}

	payment.Version++
	payment.UpdatedAt = now
	return nil
}

// ListStuckProcessing возвращает платежи, зависшие в PROCESSING дольше olderThan.
func (r *paymentRepository) ListStuckProcessing(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Payment, error) {
	threshold := time.Now().UTC().Add(-olderThan)

	var models []PaymentModel
	if err := conn(ctx, r.db).
		Where("status = ? AND updated_at < ?", string(domain.PaymentStatusProcessing), threshold).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	payments := make([]*domain.Payment, 0, len(models))
	for i := range models {
		payments = append(payments, models[i].toDomain())
	}

	return payments, nil
}
