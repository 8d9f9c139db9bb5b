package cache

import (
	"context"

	"github.com/saiset-co/sai-webserver/types"
)

// New builds the response cache backend selected by config.Type.
func New(ctx context.Context, config *types.CacheConfig, logger types.Logger) (types.CacheStore, error) {
	if config == nil {
		return nil, types.ErrConfigIsNil
	}

	switch config.Type {
	case "", "memory":
		return NewMemoryStore(logger, config.MaxEntries, 0), nil
	case "redis":
		return NewRedisStore(ctx, logger, config.Redis)
	default:
		return nil, types.Errorf(types.ErrCacheTypeUnknown, "cache type: %s", config.Type)
	}
}
