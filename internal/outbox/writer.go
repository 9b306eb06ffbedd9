package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/internal/repository"
)

// Writer добавляет события в outbox. Append присоединяется к транзакции
// из context, открытой через repository.TxManager, поэтому строка события
// фиксируется атомарно с записью агрегата.
type Writer struct {
	db *gorm.DB
}

// NewWriter создаёт Writer поверх общего пула БД.
func NewWriter(db *gorm.DB) *Writer {
	return &Writer{db: db}
}

// Append сериализует конверт события и вставляет строку outbox.
// Вызывается только внутри TxManager.WithinTx вместе с записью агрегата.
func (w *Writer) Append(ctx context.Context, aggregateType, aggregateID string, event *domain.CloudEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("сериализация события %s: %w", event.Type, err)
	}

	now := time.Now()
	model := &EventModel{
		EventID:       event.ID,
		TenantID:      event.TenantID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     event.ShortType(),
		Payload:       payload,
		Status:        string(StatusPending),
		NextAttemptAt: now,
		CreatedAt:     now,
	}

	if err := repository.Conn(ctx, w.db).Create(model).Error; err != nil {
		return fmt.Errorf("запись события %s в outbox: %w", event.ShortType(), err)
	}
	return nil
}
