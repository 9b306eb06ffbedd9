// Package repository содержит GORM-реализации доступа к данным движка.
// Каждый репозиторий фильтрует строки по тенанту из context и дополнительно
// привязывает тенанта к сессии БД для row-level security.
package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"example.com/fluxpay/internal/tenant"
)

// txKey — приватный ключ context для активной транзакции.
type txKey struct{}

// TxManager выполняет функции в транзакции БД.
// Доменный сервис объединяет запись агрегата и outbox-события в одну транзакцию.
type TxManager struct {
	db *gorm.DB
}

// NewTxManager создаёт менеджер транзакций.
func NewTxManager(db *gorm.DB) *TxManager {
	return &TxManager{db: db}
}

// WithinTx выполняет fn в транзакции. Вложенный вызов переиспользует
// уже открытую транзакцию из context. Тенант из context привязывается
// к транзакции как сессионная переменная app.tenant_id для RLS.
func (m *TxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tenantID, ok := tenant.FromContext(ctx); ok {
			if err := tx.Exec("SELECT set_config('app.tenant_id', ?, true)", tenantID).Error; err != nil {
				return err
			}
		}

		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// txFromContext возвращает активную транзакцию из context или nil.
func txFromContext(ctx context.Context) *gorm.DB {
	tx, _ := ctx.Value(txKey{}).(*gorm.DB)
	return tx
}

// conn возвращает активную транзакцию из context или общий пул.
// Репозитории используют conn во всех запросах, чтобы автоматически
// участвовать в транзакции сервиса.
func conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return db.WithContext(ctx)
}

// Conn — экспортированный вариант conn для пакетов вне repository.
// Пакет outbox пишет строки событий в ту же транзакцию, что и агрегат.
func Conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	return conn(ctx, db)
}

// isDuplicateKeyError проверяет, является ли ошибка нарушением уникальности.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(errMsg, "duplicate key value") ||
		strings.Contains(errMsg, "23505")
}
