package idempotency

import (
	"context"
	"time"

	"example.com/fluxpay/internal/domain"
	"example.com/fluxpay/internal/tenant"
	"example.com/fluxpay/pkg/logger"
	"example.com/fluxpay/pkg/metrics"
)

// Guard координирует кеш и авторитетное хранилище идемпотентности.
//
// Порядок захвата: сначала кеш (быстрые HIT/PROCESSING/CONFLICT и замок
// SET NX), затем Postgres как источник истины. При недоступности кеша
// guard работает только через Postgres; при недоступности Postgres
// полагается на вердикт кеша. Отказ обоих слоёв — SERVICE_UNAVAILABLE,
// fail-open не допускается.
type Guard struct {
	cache *RedisCache // nil допустим, тогда работает только хранилище
	store *PostgresStore
	ttl   time.Duration
}

// NewGuard создаёт защиту идемпотентности. При ttl <= 0 берётся DefaultTTL.
func NewGuard(cache *RedisCache, store *PostgresStore, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{cache: cache, store: store, ttl: ttl}
}

// AcquireLock захватывает ключ идемпотентности для команды endpoint.
// MISS означает, что замок взят и вызывающий выполняет запрос;
// остальные исходы описывают судьбу уже виденного ключа.
func (g *Guard) AcquireLock(ctx context.Context, endpoint, key, payloadHash string) (*Result, error) {
	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx)

	cacheRes, cacheLocked, cacheErr := g.tryCache(ctx, tenantID, endpoint, key, payloadHash)
	if cacheErr == nil && cacheRes != nil {
		g.observe(cacheRes.Outcome)
		return cacheRes, nil
	}
	if cacheErr != nil {
		log.Warn().Err(cacheErr).
			Str("endpoint", endpoint).
			Msg("Кеш идемпотентности недоступен, переходим на хранилище")
	}

	res, existing, expiresAt, dbErr := g.store.Acquire(ctx, tenantID, endpoint, key, payloadHash, g.ttl)
	if dbErr != nil {
		if cacheErr == nil && cacheLocked {
			// Хранилище недоступно, но кеш-замок взят: деградируем на кеш.
			log.Error().Err(dbErr).
				Str("endpoint", endpoint).
				Msg("Хранилище идемпотентности недоступно, работаем от кеша")
			g.observe(OutcomeMiss)
			return &Result{Outcome: OutcomeMiss}, nil
		}
		return nil, domain.ErrUnavailable.
			WithMessage("сервис идемпотентности недоступен").
			WithCause(dbErr)
	}

	// Хранилище знает про ключ больше кеша: выравниваем кеш, иначе
	// наш SET NX замок до истечения TTL отвечал бы PROCESSING вместо HIT.
	if cacheErr == nil && cacheLocked && existing != nil {
		if ttl := time.Until(expiresAt); ttl > 0 {
			if err := g.cache.StoreEntry(ctx, tenantID, endpoint, key, existing, ttl); err != nil {
				log.Warn().Err(err).Msg("Не удалось подогреть кеш идемпотентности")
			}
		}
	}

	g.observe(res.Outcome)
	return res, nil
}

// Store сохраняет ответ выполненной команды и промоутит замок в STORED.
// Кеш обновляется по остаточному TTL авторитетной записи.
func (g *Guard) Store(ctx context.Context, endpoint, key, payloadHash string, httpStatus int, response []byte) error {
	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return err
	}

	expiresAt, err := g.store.Promote(ctx, tenantID, endpoint, key, payloadHash, httpStatus, response)
	if err != nil {
		return err
	}
	if expiresAt.IsZero() {
		// Замок истёк до завершения обработки, кешировать нечего.
		return nil
	}

	if g.cache != nil {
		if ttl := time.Until(expiresAt); ttl > 0 {
			entry := &Entry{
				State:       StateStored,
				PayloadHash: payloadHash,
				HTTPStatus:  httpStatus,
				Response:    response,
			}
			if cerr := g.cache.StoreEntry(ctx, tenantID, endpoint, key, entry, ttl); cerr != nil {
				logger.Ctx(ctx).Warn().Err(cerr).
					Str("endpoint", endpoint).
					Msg("Не удалось закешировать ответ идемпотентности")
			}
		}
	}

	return nil
}

// ReleaseLock снимает замок после ошибки обработки, чтобы клиент мог
// повторить запрос с тем же ключом.
func (g *Guard) ReleaseLock(ctx context.Context, endpoint, key string) error {
	tenantID, err := tenant.Require(ctx)
	if err != nil {
		return err
	}

	var firstErr error
	if g.cache != nil {
		if err := g.cache.Delete(ctx, tenantID, endpoint, key); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("Не удалось снять кеш-замок идемпотентности")
			firstErr = err
		}
	}

	if err := g.store.DeleteLock(ctx, tenantID, endpoint, key); err != nil {
		if firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// tryCache проверяет кеш-слой. Возвращает готовый результат, признак
// взятого кеш-замка и ошибку кеша. (nil, true, nil) означает, что замок
// взят и решение за авторитетным слоем.
func (g *Guard) tryCache(ctx context.Context, tenantID, endpoint, key, payloadHash string) (*Result, bool, error) {
	if g.cache == nil {
		return nil, false, nil
	}

	entry, err := g.cache.Get(ctx, tenantID, endpoint, key)
	if err != nil {
		return nil, false, err
	}
	if entry != nil {
		return resultFromEntry(entry, payloadHash), false, nil
	}

	locked, err := g.cache.SetLock(ctx, tenantID, endpoint, key, payloadHash, g.ttl)
	if err != nil {
		return nil, false, err
	}
	if !locked {
		// Проиграли гонку за ключ: читаем запись победителя.
		entry, err = g.cache.Get(ctx, tenantID, endpoint, key)
		if err != nil {
			return nil, false, err
		}
		if entry != nil {
			return resultFromEntry(entry, payloadHash), false, nil
		}
		// Ключ истёк между SET и GET, клиент повторит запрос.
		return &Result{Outcome: OutcomeProcessing}, false, nil
	}

	return nil, true, nil
}

// observe записывает исход проверки в метрики.
func (g *Guard) observe(outcome Outcome) {
	metrics.IdempotencyChecksTotal.WithLabelValues(string(outcome)).Inc()
}
