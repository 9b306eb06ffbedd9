package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/internal/tenant"
	"example.com/fluxpay/pkg/logger"
)

// SubscriptionService управляет подписками тенантов на события.
type SubscriptionService struct {
	subscriptions SubscriptionRepository
}

// NewSubscriptionService создаёт сервис подписок.
func NewSubscriptionService(subscriptions SubscriptionRepository) *SubscriptionService {
	return &SubscriptionService{subscriptions: subscriptions}
}

// Register создаёт активную подписку тенанта. Пустой secret генерируется:
// подписчик получает его один раз в ответе на регистрацию.
func (s *SubscriptionService) Register(ctx context.Context, eventType, targetURL, secret string) (*domain.WebhookSubscription, error) {
	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}

	if secret == "" {
		secret, err = generateSecret()
		if err != nil {
			return nil, fmt.Errorf("генерация секрета подписки: %w", err)
		}
	}

	sub, err := domain.NewWebhookSubscription(tenantID, eventType, targetURL, secret)
	if err != nil {
		return nil, err
	}

	if err := s.subscriptions.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("создание подписки: %w", err)
	}

	logger.Ctx(ctx).Info().
		Str("subscription_id", sub.ID).
		Str("event_type", sub.EventType).
		Str("target_url", sub.TargetURL).
		Msg("Подписка на вебхуки зарегистрирована")

	return sub, nil
}

// List возвращает подписки тенанта.
func (s *SubscriptionService) List(ctx context.Context) ([]*domain.WebhookSubscription, error) {
	return s.subscriptions.List(ctx)
}

// generateSecret возвращает криптографически случайный секрет подписки.
func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(buf), nil
}
