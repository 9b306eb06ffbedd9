package service

import (
	"context"
	"errors"
	"fmt"

	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/internal/repository"
	"example.com/fluxpay/internal/tenant"
	"example.com/fluxpay/pkg/logger"
)

// Константы пагинации списка заказов.
const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// OrderService определяет интерфейс бизнес-логики заказов.
type OrderService interface {
	// CreateOrder создаёт заказ в статусе PENDING и пишет order.created
	// в outbox той же транзакцией.
	CreateOrder(ctx context.Context, userID string, currency domain.Currency, items []domain.LineItem, metadata map[string]any) (*domain.Order, error)

	// GetOrder возвращает заказ по ID.
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)

	// ListOrders возвращает заказы тенанта с пагинацией.
	// Пустой userID означает все заказы тенанта.
	ListOrders(ctx context.Context, userID string, limit, offset int) ([]*domain.Order, error)

	// CancelOrder отменяет заказ. Идемпотентен: повторная отмена
	// уже отменённого заказа не считается ошибкой.
	CancelOrder(ctx context.Context, orderID string) error
}

// orderService — реализация OrderService.
type orderService struct {
	tx     TxRunner
	orders repository.OrderRepository
	events EventAppender
}

// NewOrderService создаёт сервис заказов.
func NewOrderService(tx TxRunner, orders repository.OrderRepository, events EventAppender) OrderService {
	return &orderService{tx: tx, orders: orders, events: events}
}

// CreateOrder создаёт заказ с зафиксированной суммой.
func (s *orderService) CreateOrder(ctx context.Context, userID string, currency domain.Currency, items []domain.LineItem, metadata map[string]any) (*domain.Order, error) {
	log := logger.FromContext(ctx)

	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}

	order, err := domain.NewOrder(tenantID, userID, currency, items, metadata)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Ошибка валидации заказа")
		return nil, err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.orders.Create(ctx, order); err != nil {
			return err
		}

		return appendEvent(ctx, s.events, tenantID,
			domain.AggregateOrder, order.ID,
			domain.EventOrderCreated, domain.NewOrderEventData(order))
	})
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Ошибка создания заказа")
		return nil, fmt.Errorf("создание заказа: %w", err)
	}

	log.Info().
		Str("order_id", order.ID).
		Str("user_id", userID).
		Str("amount", order.TotalAmount.String()).
		Msg("Заказ создан")

	return order, nil
}

// GetOrder возвращает заказ по ID.
func (s *orderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.orders.GetByID(ctx, orderID)
}

// ListOrders возвращает заказы тенанта с пагинацией.
func (s *orderService) ListOrders(ctx context.Context, userID string, limit, offset int) ([]*domain.Order, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	return s.orders.List(ctx, userID, limit, offset)
}

// CancelOrder отменяет заказ. Используется и компенсацией саги,
// поэтому повторная отмена завершается успешно.
func (s *orderService) CancelOrder(ctx context.Context, orderID string) error {
	log := logger.FromContext(ctx)

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}

		if order.Status == domain.OrderStatusCancelled {
			return nil
		}

		if err := order.Cancel(); err != nil {
			return err
		}

		return s.orders.Update(ctx, order)
	})
	if err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			return domain.ErrOrderInvalidTransition.
				WithMessage("заказ %s изменён конкурентно", orderID).
				WithCause(err)
		}
		return err
	}

	log.Info().Str("order_id", orderID).Msg("Заказ отменён")
	return nil
}
