package cache

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "slidestream:tile:"

// RedisCache shares encoded tiles between server instances.
type RedisCache struct {
	rdb         goredis.UniversalClient
	closeClient bool
	ttl         time.Duration
	timeout     time.Duration
	logger      *zap.Logger
}

// NewRedisCache wraps an existing client. closeClient should be true only when
// the cache owns the client.
func NewRedisCache(rdb goredis.UniversalClient, closeClient bool, ttl time.Duration, logger *zap.Logger) *RedisCache {
	return &RedisCache{
		rdb:         rdb,
		closeClient: closeClient,
		ttl:         ttl,
		timeout:     2 * time.Second,
		logger:      logger,
	}
}

func (r *RedisCache) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.timeout)
}

func (r *RedisCache) Get(key TileKey) ([]byte, bool) {
	ctx, cancel := r.ctx()
	defer cancel()

	b, err := r.rdb.Get(ctx, redisKeyPrefix+key.String()).Bytes()
	if err == goredis.Nil {
		return nil, false
	}
	if err != nil {
		r.logger.Warn("redis get failed", zap.Stringer("key", key), zap.Error(err))
		return nil, false
	}
	return b, true
}

func (r *RedisCache) Set(key TileKey, value []byte) {
	ctx, cancel := r.ctx()
	defer cancel()

	if err := r.rdb.Set(ctx, redisKeyPrefix+key.String(), value, r.ttl).Err(); err != nil {
		r.logger.Warn("redis set failed", zap.Stringer("key", key), zap.Error(err))
	}
}

func (r *RedisCache) Has(key TileKey) bool {
	ctx, cancel := r.ctx()
	defer cancel()

	n, err := r.rdb.Exists(ctx, redisKeyPrefix+key.String()).Result()
	return err == nil && n > 0
}

// Clear removes this server's tiles only.
func (r *RedisCache) Clear() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	iter := r.rdb.Scan(ctx, 0, redisKeyPrefix+"*", 500).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == 500 {
			r.del(ctx, keys)
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		r.logger.Warn("redis scan failed", zap.Error(err))
	}
	if len(keys) > 0 {
		r.del(ctx, keys)
	}
}

func (r *RedisCache) del(ctx context.Context, keys []string) {
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		r.logger.Warn("redis delete failed", zap.Int("keys", len(keys)), zap.Error(err))
	}
}

func (r *RedisCache) Close() error {
	if r.closeClient {
		if err := r.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
