package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maynagashev/fieldsync/internal/models"
)

const ledgerKeyPrefix = "fieldsync:ledger:"

// cachedRecord хранит Result как []byte (base64 в JSON),
// чтобы воспроизводимый результат не переформатировался.
type cachedRecord struct {
	IdempotencyKey string    `json:"idempotency_key"`
	OperationType  string    `json:"operation_type"`
	EntityID       string    `json:"entity_id"`
	UserID         int64     `json:"user_id"`
	ProcessedAt    time.Time `json:"processed_at"`
	Result         []byte    `json:"result"`
}

// RedisResultCache кэширует зафиксированные записи журнала идемпотентности в Redis.
type RedisResultCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisResultCache создает кэш поверх клиента Redis.
func NewRedisResultCache(client *redis.Client, ttl time.Duration) *RedisResultCache {
	return &RedisResultCache{client: client, ttl: ttl}
}

// NewRedisClient создает клиента Redis и проверяет соединение.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ошибка подключения к Redis %s: %w", addr, err)
	}
	return client, nil
}

// Get возвращает запись из кэша. Промах - (nil, false, nil).
func (c *RedisResultCache) Get(ctx context.Context, key string) (*models.IdempotencyRecord, bool, error) {
	data, err := c.client.Get(ctx, ledgerKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("ошибка чтения из Redis: %w", err)
	}

	var cached cachedRecord
	if err = json.Unmarshal(data, &cached); err != nil {
		return nil, false, fmt.Errorf("повреждена запись кэша %q: %w", key, err)
	}
	return &models.IdempotencyRecord{
		IdempotencyKey: cached.IdempotencyKey,
		OperationType:  cached.OperationType,
		EntityID:       cached.EntityID,
		UserID:         cached.UserID,
		ProcessedAt:    cached.ProcessedAt,
		Result:         cached.Result,
	}, true, nil
}

// Set сохраняет запись с TTL. Записи журнала неизменяемы, поэтому перезапись безопасна.
func (c *RedisResultCache) Set(ctx context.Context, rec *models.IdempotencyRecord) error {
	data, err := json.Marshal(cachedRecord{
		IdempotencyKey: rec.IdempotencyKey,
		OperationType:  rec.OperationType,
		EntityID:       rec.EntityID,
		UserID:         rec.UserID,
		ProcessedAt:    rec.ProcessedAt,
		Result:         rec.Result,
	})
	if err != nil {
		return fmt.Errorf("ошибка сериализации записи журнала: %w", err)
	}
	if err = c.client.Set(ctx, ledgerKeyPrefix+rec.IdempotencyKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("ошибка записи в Redis: %w", err)
	}
	return nil
}

// NoopResultCache - кэш-заглушка, когда Redis не настроен.
type NoopResultCache struct{}

// Get всегда возвращает промах.
func (NoopResultCache) Get(context.Context, string) (*models.IdempotencyRecord, bool, error) {
	return nil, false, nil
}

// Set ничего не делает.
func (NoopResultCache) Set(context.Context, *models.IdempotencyRecord) error { return nil }
