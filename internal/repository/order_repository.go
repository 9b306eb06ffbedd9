package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/internal/tenant"
)

// OrderRepository определяет интерфейс для работы с заказами в БД.
type OrderRepository interface {
	// Create создаёт заказ вместе с позициями.
	Create(ctx context.Context, order *domain.Order) error

	// GetByID возвращает заказ тенанта по ID вместе с позициями.
	GetByID(ctx context.Context, orderID string) (*domain.Order, error)

	// List возвращает заказы тенанта, новые первыми.
	List(ctx context.Context, userID string, limit, offset int) ([]*domain.Order, error)

	// Update обновляет заказ с проверкой версии (optimistic lock).
	Update(ctx context.Context, order *domain.Order) error
}

// =============================================================================
// GORM модели
// =============================================================================

// OrderModel — GORM модель для таблицы orders.
type OrderModel struct {
	ID          string          `gorm:"column:id;type:varchar(36);primaryKey"`
	TenantID    string          `gorm:"column:tenant_id;type:varchar(64);not null;index"`
	UserID      string          `gorm:"column:user_id;type:varchar(64);not null;index"`
	TotalAmount decimal.Decimal `gorm:"column:total_amount;type:numeric(20,4);not null"`
	Currency    string          `gorm:"column:currency;type:varchar(3);not null"`
	Status      string          `gorm:"column:status;type:varchar(20);not null;index"`
	Metadata    []byte          `gorm:"column:metadata;type:jsonb"`
	Version     int64           `gorm:"column:version;not null"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
	PaidAt      *time.Time      `gorm:"column:paid_at"`
	CompletedAt *time.Time      `gorm:"column:completed_at"`
}

// TableName возвращает имя таблицы в БД.
func (OrderModel) TableName() string {
	return "orders"
}

// LineItemModel — GORM модель для таблицы order_line_items.
type LineItemModel struct {
	ID          string          `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderID     string          `gorm:"column:order_id;type:varchar(36);not null;index"`
	TenantID    string          `gorm:"column:tenant_id;type:varchar(64);not null;index"`
	ProductID   string          `gorm:"column:product_id;type:varchar(64);not null"`
	ProductName string          `gorm:"column:product_name;type:varchar(255)"`
	Quantity    int64           `gorm:"column:quantity;not null"`
	UnitPrice   decimal.Decimal `gorm:"column:unit_price;type:numeric(20,4);not null"`
	Currency    string          `gorm:"column:currency;type:varchar(3);not null"`
}

// TableName возвращает имя таблицы в БД.
func (LineItemModel) TableName() string {
	return "order_line_items"
}

// toDomain конвертирует GORM модель в доменную сущность.
func (m *OrderModel) toDomain(items []LineItemModel) (*domain.Order, error) {
	order := &domain.Order{
		ID:          m.ID,
		TenantID:    m.TenantID,
		UserID:      m.UserID,
		TotalAmount: domain.Money{Amount: m.TotalAmount, Currency: domain.Currency(m.Currency)},
		Status:      domain.OrderStatus(m.Status),
		Version:     m.Version,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		PaidAt:      m.PaidAt,
		CompletedAt: m.CompletedAt,
	}

	if len(m.Metadata) > 0 {
		if err := json.Unmarshal(m.Metadata, &order.Metadata); err != nil {
			return nil, err
		}
	}

	order.LineItems = make([]domain.LineItem, 0, len(items))
	for _, item := range items {
		order.LineItems = append(order.LineItems, domain.LineItem{
			ID:          item.ID,
			OrderID:     item.OrderID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   domain.Money{Amount: item.UnitPrice, Currency: domain.Currency(item.Currency)},
		})
	}

	return order, nil
}

// orderModelFromDomain конвертирует доменную сущность в GORM модели.
func orderModelFromDomain(o *domain.Order) (*OrderModel, []LineItemModel, error) {
	model := &OrderModel{
		ID:          o.ID,
		TenantID:    o.TenantID,
		UserID:      o.UserID,
		TotalAmount: o.TotalAmount.Amount,
		Currency:    string(o.TotalAmount.Currency),
		Status:      string(o.Status),
		Version:     o.Version,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
		PaidAt:      o.PaidAt,
		CompletedAt: o.CompletedAt,
	}

	if len(o.Metadata) > 0 {
		raw, err := json.Marshal(o.Metadata)
		if err != nil {
			return nil, nil, err
		}
		model.Metadata = raw
	}

	items := make([]LineItemModel, 0, len(o.LineItems))
	for _, item := range o.LineItems {
		items = append(items, LineItemModel{
			ID:          item.ID,
			OrderID:     item.OrderID,
			TenantID:    o.TenantID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.Amount,
			Currency:    string(item.UnitPrice.Currency),
		})
	}

	return model, items, nil
}

// =============================================================================
// Реализация репозитория
// =============================================================================

// orderRepository — GORM реализация OrderRepository.
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository создаёт репозиторий заказов.
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// Create создаёт заказ вместе с позициями.
func (r *orderRepository) Create(ctx context.Context, order *domain.Order) error {
	if _, err := tenant.Require(ctx); err != nil {
		return err
	}

	model, items, err := orderModelFromDomain(order)
	if err != nil {
		return err
	}

	db := conn(ctx, r.db)

	// Заказ и позиции пишутся атомарно даже вне внешней транзакции.
	if err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		if len(items) > 0 {
			return tx.Create(&items).Error
		}
		return nil
	}); err != nil {
		return err
	}

	order.CreatedAt = model.CreatedAt
	order.UpdatedAt = model.UpdatedAt
	return nil
}

// GetByID возвращает заказ тенанта по ID вместе с позициями.
func (r *orderRepository) GetByID(ctx context.Context, orderID string) (*domain.Order, error) {
	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}

	db := conn(ctx, r.db)

	var model OrderModel
	if err := db.
		Where("id = ? AND tenant_id = ?", orderID, tenantID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}

	var items []LineItemModel
	if err := db.
		Where("order_id = ? AND tenant_id = ?", orderID, tenantID).
		Find(&items).Error; err != nil {
		return nil, err
	}

	return model.toDomain(items)
}

// List возвращает заказы тенанта, новые первыми.
// userID фильтрует по пользователю, пустая строка — все пользователи тенанта.
func (r *orderRepository) List(ctx context.Context, userID string, limit, offset int) ([]*domain.Order, error) {
	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}

	query := conn(ctx, r.db).Where("tenant_id = ?", tenantID)
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}

	var models []OrderModel
	if err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&models).Error; err != nil {
		return nil, err
	}

	orders := make([]*domain.Order, 0, len(models))
	for i := range models {
		order, err := models[i].toDomain(nil)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	return orders, nil
}

// Update обновляет заказ с проверкой версии.
// При несовпадении версии возвращает ErrVersionConflict.
func (r *orderRepository) Update(ctx context.Context, order *domain.Order) error {
	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	result := conn(ctx, r.db).
		Model(&OrderModel{}).
		Where("id = ? AND tenant_id = ? AND version = ?", order.ID, tenantID, order.Version).
		Updates(map[string]interface{}{
			"status":       string(order.Status),
			"paid_at":      order.PaidAt,
			"completed_at": order.CompletedAt,
			"version":      order.Version + 1,
			"updated_at":   now,
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return domain.ErrVersionConflict
	}

	order.Version++
	order.UpdatedAt = now
	return nil
}
