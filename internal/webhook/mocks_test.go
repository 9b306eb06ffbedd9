package webhook

import (
	"context"

	"github.com/stretchr/testify/mock"

	"example.com/fluxpay/internal/domain"
)

// =============================================================================
// Моки репозиториев пакета webhook
// =============================================================================

// mockDeliveryRepository — мок DeliveryRepository.
type mockDeliveryRepository struct {
	mock.Mock
}

func (m *mockDeliveryRepository) CreateBatch(ctx context.Context, deliveries []*domain.WebhookDelivery) error {
	args := m.Called(ctx, deliveries)
	return args.Error(0)
}

func (m *mockDeliveryRepository) GetByID(ctx context.Context, deliveryID string) (*domain.WebhookDelivery, error) {
	args := m.Called(ctx, deliveryID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.WebhookDelivery), args.Error(1)
}

func (m *mockDeliveryRepository) ClaimDue(ctx context.Context, limit int) ([]*domain.WebhookDelivery, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.WebhookDelivery), args.Error(1)
}

func (m *mockDeliveryRepository) Update(ctx context.Context, delivery *domain.WebhookDelivery) error {
	args := m.Called(ctx, delivery)
	return args.Error(0)
}

// mockSubscriptionRepository — мок SubscriptionRepository.
type mockSubscriptionRepository struct {
	mock.Mock
}

func (m *mockSubscriptionRepository) Create(ctx context.Context, sub *domain.WebhookSubscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

func (m *mockSubscriptionRepository) List(ctx context.Context) ([]*domain.WebhookSubscription, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.WebhookSubscription), args.Error(1)
}

func (m *mockSubscriptionRepository) ListActiveForEvent(ctx context.Context, tenantID, eventType string) ([]*domain.WebhookSubscription, error) {
	args := m.Called(ctx, tenantID, eventType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.WebhookSubscription), args.Error(1)
}

func (m *mockSubscriptionRepository) GetSecret(ctx context.Context, subscriptionID string) (string, error) {
	args := m.Called(ctx, subscriptionID)
	return args.String(0), args.Error(1)
}
