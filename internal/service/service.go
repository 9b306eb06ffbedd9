// Package service содержит бизнес-логику движка: заказы, платежи,
// возвраты, платёжную сагу и фоновые воркеры. Сервисы объединяют запись
// агрегата и outbox-события в одну транзакцию через TxRunner.
package service

import (
	"context"
	"fmt"

	"example.com/fluxpay/internal/domain"
)

// TxRunner выполняет функцию в транзакции БД.
// Реализуется repository.TxManager.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventAppender пишет доменные события в outbox.
// Реализуется outbox.Writer; Append присоединяется к транзакции из context.
type EventAppender interface {
	Append(ctx context.Context, aggregateType, aggregateID string, event *domain.CloudEvent) error
}

// appendEvent собирает конверт CloudEvents и кладёт его в outbox.
// Вызывается только внутри TxRunner.WithinTx рядом с записью агрегата.
func appendEvent(ctx context.Context, events EventAppender, tenantID, aggregateType, aggregateID, eventType string, data any) error {
	event, err := domain.NewCloudEvent(tenantID, eventType, data)
	if err != nil {
		return fmt.Errorf("сборка события %s: %w", eventType, err)
	}

	if err := events.Append(ctx, aggregateType, aggregateID, event); err != nil {
		return fmt.Errorf("запись события %s: %w", eventType, err)
	}

	return nil
}
