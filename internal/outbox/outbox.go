// Package outbox реализует transactional outbox для доменных событий.
// Сервис в одной транзакции пишет агрегат и строку outbox, отдельный
// Publisher забирает строки через FOR UPDATE SKIP LOCKED и отправляет
// их в Kafka с гарантией at-least-once.
package outbox

import "time"

// Status — статус события outbox.
type Status string

const (
	// StatusPending — событие ждёт публикации.
	StatusPending Status = "PENDING"

	// StatusInFlight — событие захвачено публикатором.
	StatusInFlight Status = "IN_FLIGHT"

	// StatusPublished — брокер подтвердил приём.
	StatusPublished Status = "PUBLISHED"

	// StatusFailed — попытки публикации исчерпаны, копия ушла в DLQ.
	StatusFailed Status = "FAILED"
)

// Event — строка outbox. Payload содержит готовый конверт CloudEvents,
// который без изменений уходит в брокер и в вебхуки подписчикам.
type Event struct {
	Seq           int64      // Монотонный номер, порядок публикации
	EventID       string     // UUID события (CloudEvents id)
	TenantID      string     // Арендатор события
	AggregateType string     // Тип агрегата (order / payment / refund)
	AggregateID   string     // ID агрегата, ключ партиционирования
	EventType     string     // Короткий тип (payment.confirmed)
	Payload       []byte     // JSON конверта CloudEvents
	Status        Status     // Текущий статус
	RetryCount    int        // Количество неудачных публикаций
	NextAttemptAt time.Time  // Время следующей попытки
	ClaimedAt     *time.Time // Время захвата публикатором
	PublishedAt   *time.Time // Время подтверждения брокером
	LastError     *string    // Последняя ошибка публикации
	CreatedAt     time.Time  // Время записи
}
