package idempotency

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IdempotencyModel — GORM модель для таблицы idempotency_keys.
// Составной первичный ключ (tenant_id, endpoint, idempotency_key)
// гарантирует единственность записи на команду.
type IdempotencyModel struct {
	TenantID       string    `gorm:"column:tenant_id;type:varchar(64);primaryKey"`
	Endpoint       string    `gorm:"column:endpoint;type:varchar(128);primaryKey"`
	IdempotencyKey string    `gorm:"column:idempotency_key;type:varchar(64);primaryKey"`
	PayloadHash    string    `gorm:"column:payload_hash;type:varchar(64);not null"`
	State          string    `gorm:"column:state;type:varchar(10);not null"`
	HTTPStatus     *int      `gorm:"column:http_status"`
	Response       []byte    `gorm:"column:response;type:jsonb"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	ExpiresAt      time.Time `gorm:"column:expires_at;index"`
}

// TableName возвращает имя таблицы в БД.
func (IdempotencyModel) TableName() string {
	return "idempotency_keys"
}

// toEntry конвертирует строку БД в запись идемпотентности.
func (m *IdempotencyModel) toEntry() *Entry {
	entry := &Entry{
		State:       State(m.State),
		PayloadHash: m.PayloadHash,
		Response:    m.Response,
	}
	if m.HTTPStatus != nil {
		entry.HTTPStatus = *m.HTTPStatus
	}
	return entry
}

// PostgresStore — авторитетный слой идемпотентности.
// Атомарность захвата строится на INSERT ... ON CONFLICT DO NOTHING
// с последующим чтением существующей строки.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore создаёт хранилище идемпотентности.
func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Acquire атомарно захватывает ключ или интерпретирует существующую запись.
// Возвращает результат, существующую запись (nil при MISS) и её expires_at.
// Истёкшие записи не учитываются и удаляются по пути.
func (s *PostgresStore) Acquire(ctx context.Context, tenantID, endpoint, key, payloadHash string, ttl time.Duration) (*Result, *Entry, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	// Два прохода: первый может наткнуться на истёкшую запись,
	// второй вставляет свежий замок после её удаления.
	for attempt := 0; attempt < 2; attempt++ {
		model := &IdempotencyModel{
			TenantID:       tenantID,
			Endpoint:       endpoint,
			IdempotencyKey: key,
			PayloadHash:    payloadHash,
			State:          string(StateLocked),
			CreatedAt:      now,
			ExpiresAt:      expiresAt,
		}

		insert := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(model)
		if insert.Error != nil {
			return nil, nil, time.Time{}, insert.Error
		}
		if insert.RowsAffected == 1 {
			return &Result{Outcome: OutcomeMiss}, nil, expiresAt, nil
		}

		var existing IdempotencyModel
		err := s.db.WithContext(ctx).
			Where("tenant_id = ? AND endpoint = ? AND idempotency_key = ?", tenantID, endpoint, key).
			First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Строку удалили между вставкой и чтением, пробуем ещё раз.
			continue
		}
		if err != nil {
			return nil, nil, time.Time{}, err
		}

		if !existing.ExpiresAt.After(now) {
			if err := s.deleteExpiredRow(ctx, tenantID, endpoint, key, now); err != nil {
				return nil, nil, time.Time{}, err
			}
			continue
		}

		entry := existing.toEntry()
		return resultFromEntry(entry, payloadHash), entry, existing.ExpiresAt, nil
	}

	// Дважды не смогли ни вставить, ни прочитать: ключ в активной гонке.
	return &Result{Outcome: OutcomeProcessing}, nil, time.Time{}, nil
}

// Promote переводит запись в STORED и сохраняет сериализованный ответ.
// Возвращает expires_at записи или нулевое время, если запись уже удалена.
func (s *PostgresStore) Promote(ctx context.Context, tenantID, endpoint, key, payloadHash string, httpStatus int, response []byte) (time.Time, error) {
	result := s.db.WithContext(ctx).
		Model(&IdempotencyModel{}).
		Where("tenant_id = ? AND endpoint = ? AND idempotency_key = ?", tenantID, endpoint, key).
		Updates(map[string]interface{}{
			"state":        string(StateStored),
			"payload_hash": payloadHash,
			"http_status":  httpStatus,
			"response":     response,
		})
	if result.Error != nil {
		return time.Time{}, result.Error
	}
	if result.RowsAffected == 0 {
		// Замок истёк и был удалён до завершения обработки.
		return time.Time{}, nil
	}

	var model IdempotencyModel
	if err := s.db.WithContext(ctx).
		Select("expires_at").
		Where("tenant_id = ? AND endpoint = ? AND idempotency_key = ?", tenantID, endpoint, key).
		First(&model).Error; err != nil {
		return time.Time{}, err
	}

	return model.ExpiresAt, nil
}

// DeleteLock удаляет запись в состоянии LOCKED, чтобы повтор запроса
// после ошибки обработки смог пройти заново. STORED записи не трогаются.
func (s *PostgresStore) DeleteLock(ctx context.Context, tenantID, endpoint, key string) error {
	return s.db.WithContext(ctx).
		Where("tenant_id = ? AND endpoint = ? AND idempotency_key = ? AND state = ?",
			tenantID, endpoint, key, string(StateLocked)).
		Delete(&IdempotencyModel{}).Error
}

// DeleteExpired удаляет записи с истёкшим expires_at.
// Возвращает количество удалённых строк.
func (s *PostgresStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", before).
		Delete(&IdempotencyModel{})
	return result.RowsAffected, result.Error
}

// deleteExpiredRow удаляет конкретную истёкшую запись.
// Условие по expires_at защищает от удаления свежей записи в гонке.
func (s *PostgresStore) deleteExpiredRow(ctx context.Context, tenantID, endpoint, key string, now time.Time) error {
	return s.db.WithContext(ctx).
		Where("tenant_id = ? AND endpoint = ? AND idempotency_key = ? AND expires_at <= ?",
			tenantID, endpoint, key, now).
		Delete(&IdempotencyModel{}).Error
}
