package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache — быстрый слой идемпотентности поверх Redis.
// Замок берётся атомарным SET NX, ответы кешируются до истечения TTL.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache создаёт кеш-слой идемпотентности.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// cacheKey собирает ключ Redis для записи идемпотентности.
func cacheKey(tenantID, endpoint, key string) string {
	return fmt.Sprintf("idem:%s:%s:%s", tenantID, endpoint, key)
}

// Get возвращает запись из кеша или nil, если её нет.
// Повреждённая запись удаляется и трактуется как отсутствующая.
func (c *RedisCache) Get(ctx context.Context, tenantID, endpoint, key string) (*Entry, error) {
	raw, err := c.client.Get(ctx, cacheKey(tenantID, endpoint, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		_ = c.client.Del(ctx, cacheKey(tenantID, endpoint, key)).Err()
		return nil, nil
	}

	return &entry, nil
}

// SetLock атомарно ставит замок LOCKED, если ключ свободен.
// Возвращает false, если ключ уже занят.
func (c *RedisCache) SetLock(ctx context.Context, tenantID, endpoint, key, payloadHash string, ttl time.Duration) (bool, error) {
	raw, err := json.Marshal(Entry{State: StateLocked, PayloadHash: payloadHash})
	if err != nil {
		return false, err
	}

	return c.client.SetNX(ctx, cacheKey(tenantID, endpoint, key), raw, ttl).Result()
}

// StoreEntry записывает запись в кеш, перезаписывая существующую.
// Используется для промоута замка в STORED и подогрева после рестарта Redis.
func (c *RedisCache) StoreEntry(ctx context.Context, tenantID, endpoint, key string, entry *Entry, ttl time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, cacheKey(tenantID, endpoint, key), raw, ttl).Err()
}

// Delete удаляет запись из кеша.
func (c *RedisCache) Delete(ctx context.Context, tenantID, endpoint, key string) error {
	return c.client.Del(ctx, cacheKey(tenantID, endpoint, key)).Err()
}
