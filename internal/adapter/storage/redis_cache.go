package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ndquang2/shopstock/internal/port"
)

const stockKeyPrefix = "stock:"

// decrementStockScript lowers a cached stock value only if the key still
// exists. A missing key stays missing; the store is the source of truth
// and the next enquiry repopulates it.
var decrementStockScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then
	return -1
end
return redis.call('DECRBY', key, tonumber(ARGV[1]))
`)

// releaseLockScript deletes a lock only while it still holds the
// caller's token, so an expired-and-reacquired lock is never released
// by the previous holder.
var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

type RedisCache struct {
	client  *redis.Client
	log     zerolog.Logger
	metrics port.Metrics
}

func NewRedisCache(client *redis.Client, log zerolog.Logger, metrics port.Metrics) *RedisCache {
	return &RedisCache{client: client, log: log, metrics: metrics}
}

func stockKey(itemID int) string {
	return fmt.Sprintf("%s%d", stockKeyPrefix, itemID)
}

func lockKey(buyerID string, itemID int) string {
	return fmt.Sprintf("lock:%s:%d", buyerID, itemID)
}

func (r *RedisCache) GetStock(ctx context.Context, itemID int) (int, bool, error) {
	t0 := time.Now()

	qty, err := r.client.Get(ctx, stockKey(itemID)).Int()
	if err == redis.Nil {
		r.metrics.ObserveCacheOp("get_stock", "ok", time.Since(t0).Seconds())
		return 0, false, nil
	}
	if err != nil {
		r.metrics.ObserveCacheOp("get_stock", "error", time.Since(t0).Seconds())
		r.log.Error().Err(err).Int("item_id", itemID).Msg("redis get stock")
		return 0, false, fmt.Errorf("get stock: %w", err)
	}

	r.metrics.ObserveCacheOp("get_stock", "ok", time.Since(t0).Seconds())
	return qty, true, nil
}

func (r *RedisCache) SetStock(ctx context.Context, itemID, quantity int, ttl time.Duration) error {
	t0 := time.Now()

	if err := r.client.Set(ctx, stockKey(itemID), quantity, ttl).Err(); err != nil {
		r.metrics.ObserveCacheOp("set_stock", "error", time.Since(t0).Seconds())
		r.log.Error().Err(err).Int("item_id", itemID).Msg("redis set stock")
		return fmt.Errorf("set stock: %w", err)
	}

	r.metrics.ObserveCacheOp("set_stock", "ok", time.Since(t0).Seconds())
	return nil
}

func (r *RedisCache) DecrementStock(ctx context.Context, itemID, by int) error {
	t0 := time.Now()

	if err := decrementStockScript.Run(ctx, r.client, []string{stockKey(itemID)}, by).Err(); err != nil {
		r.metrics.ObserveCacheOp("decr_stock", "error", time.Since(t0).Seconds())
		r.log.Error().Err(err).Int("item_id", itemID).Msg("redis decrement stock")
		return fmt.Errorf("decrement stock: %w", err)
	}

	r.metrics.ObserveCacheOp("decr_stock", "ok", time.Since(t0).Seconds())
	return nil
}

func (r *RedisCache) AcquireLock(ctx context.Context, buyerID string, itemID int, ttl time.Duration) (string, bool, error) {
	t0 := time.Now()
	token := uuid.New().String()

	ok, err := r.client.SetNX(ctx, lockKey(buyerID, itemID), token, ttl).Result()
	if err != nil {
		r.metrics.ObserveCacheOp("acquire_lock", "error", time.Since(t0).Seconds())
		r.log.Error().Err(err).Str("buyer_id", buyerID).Int("item_id", itemID).Msg("redis acquire lock")
		return "", false, fmt.Errorf("acquire lock: %w", err)
	}

	r.metrics.ObserveCacheOp("acquire_lock", "ok", time.Since(t0).Seconds())
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (r *RedisCache) ReleaseLock(ctx context.Context, buyerID string, itemID int, token string) error {
	t0 := time.Now()

	if err := releaseLockScript.Run(ctx, r.client, []string{lockKey(buyerID, itemID)}, token).Err(); err != nil {
		r.metrics.ObserveCacheOp("release_lock", "error", time.Since(t0).Seconds())
		r.log.Error().Err(err).Str("buyer_id", buyerID).Int("item_id", itemID).Msg("redis release lock")
		return fmt.Errorf("release lock: %w", err)
	}

	r.metrics.ObserveCacheOp("release_lock", "ok", time.Since(t0).Seconds())
	return nil
}

func (r *RedisCache) Ping(ctx context.Context) bool {
	t0 := time.Now()

	if err := r.client.Ping(ctx).Err(); err != nil {
		r.metrics.ObserveCacheOp("ping", "error", time.Since(t0).Seconds())
		r.log.Error().Err(err).Msg("redis ping")
		return false
	}

	r.metrics.ObserveCacheOp("ping", "ok", time.Since(t0).Seconds())
	return true
}
