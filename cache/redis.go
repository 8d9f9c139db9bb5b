package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-webserver/types"
	"github.com/saiset-co/sai-webserver/utils"
)

const (
	defaultRedisAddr   = "localhost:6379"
	defaultRedisPrefix = "sai-webserver"
	redisPingTimeout   = 5 * time.Second
)

// RedisStore keeps sonic-encoded entries in redis under a key prefix.
type RedisStore struct {
	logger types.Logger
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(ctx context.Context, logger types.Logger, config *types.RedisConfig) (*RedisStore, error) {
	redisConfig := types.RedisConfig{
		Addr:   defaultRedisAddr,
		Prefix: defaultRedisPrefix,
	}
	if config != nil {
		if config.Addr != "" {
			redisConfig.Addr = config.Addr
		}
		if config.Prefix != "" {
			redisConfig.Prefix = config.Prefix
		}
		redisConfig.Password = config.Password
		redisConfig.DB = config.DB
	}

	client := redis.NewClient(&redis.Options{
		Addr:         redisConfig.Addr,
		Password:     redisConfig.Password,
		DB:           redisConfig.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, types.WrapError(err, "failed to connect to redis")
	}

	logger.Info("Redis cache connected", zap.String("addr", redisConfig.Addr), zap.Int("db", redisConfig.DB))

	return NewRedisStoreFromClient(logger, client, redisConfig.Prefix), nil
}

// NewRedisStoreFromClient wraps an existing client, e.g. a cluster or ring client.
func NewRedisStoreFromClient(logger types.Logger, client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{
		logger: logger,
		client: client,
		prefix: prefix,
	}
}

func (r *RedisStore) Get(ctx context.Context, key string) (*types.CacheEntry, bool, error) {
	if key == "" {
		return nil, false, types.ErrCacheKeyEmpty
	}

	fullKey := r.buildFullKey(key)

	result, err := r.client.Get(ctx, fullKey).Bytes()
	if err != nil {
		if types.IsError(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, types.WrapError(err, "failed to get cache entry")
	}

	var entry types.CacheEntry
	if err := utils.Unmarshal(result, &entry); err != nil {
		r.logger.Warn("Dropping undecodable cache entry", zap.String("key", key), zap.Error(err))
		r.client.Del(ctx, fullKey)
		return nil, false, nil
	}

	return &entry, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, entry *types.CacheEntry, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if ttl > MaxTTL {
		ttl = MaxTTL
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	data, err := utils.Marshal(entry)
	if err != nil {
		return types.WrapError(err, "failed to marshal cache entry")
	}

	if err := r.client.Set(ctx, r.buildFullKey(key), data, ttl).Err(); err != nil {
		return types.WrapError(err, "failed to set cache entry")
	}

	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}

	if err := r.client.Del(ctx, r.buildFullKey(key)).Err(); err != nil {
		return types.WrapError(err, "failed to delete cache key")
	}

	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) buildFullKey(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}
