package outbox

import "time"

// EventModel — GORM модель для таблицы outbox_events.
// seq — bigserial, задаёт порядок публикации в рамках процесса.
type EventModel struct {
	Seq           int64      `gorm:"column:seq;primaryKey;autoIncrement"`
	EventID       string     `gorm:"column:event_id;type:varchar(36);not null;uniqueIndex:uq_outbox_event_id"`
	TenantID      string     `gorm:"column:tenant_id;type:varchar(64);not null"`
	AggregateType string     `gorm:"column:aggregate_type;type:varchar(50);not null"`
	AggregateID   string     `gorm:"column:aggregate_id;type:varchar(36);not null"`
	EventType     string     `gorm:"column:event_type;type:varchar(100);not null"`
	Payload       []byte     `gorm:"column:payload;type:jsonb;not null"`
	Status        string     `gorm:"column:status;type:varchar(20);not null;index:idx_outbox_claim"`
	RetryCount    int        `gorm:"column:retry_count;not null;default:0"`
	NextAttemptAt time.Time  `gorm:"column:next_attempt_at;not null;index:idx_outbox_claim"`
	ClaimedAt     *time.Time `gorm:"column:claimed_at"`
	PublishedAt   *time.Time `gorm:"column:published_at;index:idx_outbox_retention"`
	LastError     *string    `gorm:"column:last_error;type:text"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
}

// TableName возвращает имя таблицы в БД.
func (EventModel) TableName() string {
	return "outbox_events"
}

// toDomain конвертирует GORM модель в доменную сущность.
func (m *EventModel) toDomain() *Event {
	return &Event{
		Seq:           m.Seq,
		EventID:       m.EventID,
		TenantID:      m.TenantID,
		AggregateType: m.AggregateType,
		AggregateID:   m.AggregateID,
		EventType:     m.EventType,
		Payload:       m.Payload,
		Status:        Status(m.Status),
		RetryCount:    m.RetryCount,
		NextAttemptAt: m.NextAttemptAt,
		ClaimedAt:     m.ClaimedAt,
		PublishedAt:   m.PublishedAt,
		LastError:     m.LastError,
		CreatedAt:     m.CreatedAt,
	}
}

// modelFromDomain конвертирует доменную сущность в GORM модель.
func modelFromDomain(e *Event) *EventModel {
	return &EventModel{
		Seq:           e.Seq,
		EventID:       e.EventID,
		TenantID:      e.TenantID,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		EventType:     e.EventType,
		Payload:       e.Payload,
		Status:        string(e.Status),
		RetryCount:    e.RetryCount,
		NextAttemptAt: e.NextAttemptAt,
		ClaimedAt:     e.ClaimedAt,
		PublishedAt:   e.PublishedAt,
		LastError:     e.LastError,
		CreatedAt:     e.CreatedAt,
	}
}
