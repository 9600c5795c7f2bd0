package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis is the Redis-backed hot tier, used when several engine instances
// should share recent enrichment results.
type Redis struct {
	client *redis.Client

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewRedis creates a Redis hot tier from an existing client. The caller owns
// connectivity checks; a dead Redis degrades to all-miss behaviour rather
// than failing lookups.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Debug("redis hot tier read failed", zap.String("key", key), zap.Error(err))
		}
		r.misses.Add(1)
		return nil, false
	}
	r.hits.Add(1)
	return val, true
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		zap.L().Debug("redis hot tier write failed", zap.String("key", key), zap.Error(err))
	}
}

func (r *Redis) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		zap.L().Debug("redis hot tier delete failed", zap.String("key", key), zap.Error(err))
	}
}

func (r *Redis) Stats() TierStats {
	return TierStats{
		Hits:   r.hits.Load(),
		Misses: r.misses.Load(),
	}
}

func (r *Redis) Close() {
	if err := r.client.Close(); err != nil {
		zap.L().Debug("redis hot tier close failed", zap.Error(err))
	}
}
