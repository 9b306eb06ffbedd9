package outbox

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrEventNotFound — событие outbox не найдено.
var ErrEventNotFound = errors.New("событие outbox не найдено")

// Repository определяет методы работы публикатора со строками outbox.
// Интерфейс для тестируемости (Dependency Inversion).
type Repository interface {
	// ClaimBatch атомарно захватывает пачку событий PENDING, переводя их
	// в IN_FLIGHT. Конкурирующие публикаторы не блокируют друг друга
	// благодаря FOR UPDATE SKIP LOCKED.
	ClaimBatch(ctx context.Context, limit int) ([]*Event, error)

	// MarkPublished помечает событие опубликованным.
	MarkPublished(ctx context.Context, seq int64) error

	// Reschedule возвращает событие в PENDING с новым временем попытки.
	Reschedule(ctx context.Context, seq int64, attemptErr error, nextAttemptAt time.Time) error

	// MarkFailed помечает событие невосстановимым.
	MarkFailed(ctx context.Context, seq int64, attemptErr error) error

	// ReclaimExpired возвращает в PENDING события, захваченные упавшим
	// публикатором. Возвращает количество возвращённых строк.
	ReclaimExpired(ctx context.Context, claimedBefore time.Time) (int64, error)

	// DeletePublishedBefore удаляет опубликованные события старше
	// указанного времени. Возвращает количество удалённых строк.
	DeletePublishedBefore(ctx context.Context, before time.Time) (int64, error)

	// CountPending возвращает количество событий в ожидании публикации.
	CountPending(ctx context.Context) (int64, error)
}

// gormRepository — GORM реализация Repository.
type gormRepository struct {
	db *gorm.DB
}

// NewRepository создаёт репозиторий outbox.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// claimBatchSQL захватывает события одной командой: подзапрос выбирает
// кандидатов с блокировкой, пропуская строки других публикаторов.
const claimBatchSQL = `
UPDATE outbox_events
SET status = 'IN_FLIGHT', claimed_at = NOW()
WHERE seq IN (
    SELECT seq FROM outbox_events
    WHERE status = 'PENDING' AND next_attempt_at <= NOW()
    ORDER BY seq
    LIMIT ?
    FOR UPDATE SKIP LOCKED
)
RETURNING *`

// ClaimBatch атомарно захватывает пачку событий для публикации.
func (r *gormRepository) ClaimBatch(ctx context.Context, limit int) ([]*Event, error) {
	var models []EventModel
	if err := r.db.WithContext(ctx).Raw(claimBatchSQL, limit).Scan(&models).Error; err != nil {
		return nil, err
	}

	events := make([]*Event, len(models))
	for i := range models {
		events[i] = models[i].toDomain()
	}
	return events, nil
}

// MarkPublished помечает событие опубликованным.
func (r *gormRepository) MarkPublished(ctx context.Context, seq int64) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&EventModel{}).
		Where("seq = ?", seq).
		Updates(map[string]any{
			"status":       string(StatusPublished),
			"published_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEventNotFound
	}
	return nil
}

// Reschedule возвращает событие в PENDING после неудачной публикации.
func (r *gormRepository) Reschedule(ctx context.Context, seq int64, attemptErr error, nextAttemptAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&EventModel{}).
		Where("seq = ?", seq).
		Updates(map[string]any{
			"status":          string(StatusPending),
			"retry_count":     gorm.Expr("retry_count + 1"),
			"next_attempt_at": nextAttemptAt,
			"claimed_at":      nil,
			"last_error":      attemptErr.Error(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEventNotFound
	}
	return nil
}

// MarkFailed помечает событие невосстановимым после исчерпания попыток.
func (r *gormRepository) MarkFailed(ctx context.Context, seq int64, attemptErr error) error {
	result := r.db.WithContext(ctx).Model(&EventModel{}).
		Where("seq = ?", seq).
		Updates(map[string]any{
			"status":      string(StatusFailed),
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  attemptErr.Error(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEventNotFound
	}
	return nil
}

// ReclaimExpired возвращает события упавших публикаторов в очередь.
func (r *gormRepository) ReclaimExpired(ctx context.Context, claimedBefore time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&EventModel{}).
		Where("status = ? AND claimed_at < ?", string(StatusInFlight), claimedBefore).
		Updates(map[string]any{
			"status":     string(StatusPending),
			"claimed_at": nil,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// deleteRetentionSQL удаляет опубликованные события пачками по 1000,
// чтобы не держать длинных блокировок на большой таблице.
const deleteRetentionSQL = `
DELETE FROM outbox_events
WHERE seq IN (
    SELECT seq FROM outbox_events
    WHERE status = 'PUBLISHED' AND published_at < ?
    ORDER BY seq
    LIMIT 1000
)`

// DeletePublishedBefore удаляет опубликованные события старше указанного времени.
func (r *gormRepository) DeletePublishedBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Exec(deleteRetentionSQL, before)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// CountPending возвращает количество событий в ожидании публикации.
func (r *gormRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&EventModel{}).
		Where("status = ?", string(StatusPending)).
		Count(&count).Error
	return count, err
}
