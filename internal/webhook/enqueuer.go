package webhook

import (
	"context"
	"fmt"

	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/internal/outbox"
	"example.com/fluxpay/pkg/logger"
)

// Enqueuer ставит доставки подписчикам по опубликованному событию outbox.
// Вызывается публикатором после подтверждения брокера; повторная публикация
// того же события не порождает дубликатов благодаря уникальному индексу
// (subscription_id, event_id).
type Enqueuer struct {
	deliveries    DeliveryRepository
	subscriptions SubscriptionRepository
	maxRetries    int
}

// Проверка соответствия контракту публикатора.
var _ outbox.DeliveryEnqueuer = (*Enqueuer)(nil)

// NewEnqueuer создаёт fan-out доставок. maxRetries <= 0 заменяется
// значением по умолчанию (5 попыток).
func NewEnqueuer(deliveries DeliveryRepository, subscriptions SubscriptionRepository, maxRetries int) *Enqueuer {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &Enqueuer{
		deliveries:    deliveries,
		subscriptions: subscriptions,
		maxRetries:    maxRetries,
	}
}

// EnqueueForEvent создаёт по одной доставке на каждую активную подписку
// тенанта, принимающую тип события.
func (e *Enqueuer) EnqueueForEvent(ctx context.Context, event *outbox.Event) error {
	subs, err := e.subscriptions.ListActiveForEvent(ctx, event.TenantID, event.EventType)
	if err != nil {
		return fmt.Errorf("чтение подписок для события %s: %w", event.EventID, err)
	}

	if len(subs) == 0 {
		return nil
	}

	deliveries := make([]*domain.WebhookDelivery, 0, len(subs))
	for _, sub := range subs {
		delivery, err := domain.NewWebhookDelivery(
			event.TenantID, sub.ID, event.EventID, event.EventType,
			sub.TargetURL, event.Payload, e.maxRetries)
		if err != nil {
			return fmt.Errorf("создание доставки для подписки %s: %w", sub.ID, err)
		}
		deliveries = append(deliveries, delivery)
	}

	if err := e.deliveries.CreateBatch(ctx, deliveries); err != nil {
		return fmt.Errorf("запись доставок события %s: %w", event.EventID, err)
	}

	logger.Ctx(ctx).Debug().
		Str("event_id", event.EventID).
		Str("event_type", event.EventType).
		Int("subscribers", len(deliveries)).
		Msg("Доставки вебхуков поставлены в очередь")

	return nil
}
