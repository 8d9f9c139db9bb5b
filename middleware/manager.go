package middleware

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-webserver/types"
)

const MaxMiddlewares = 64

type builder func(m *Manager, config *types.MiddlewareConfig) ([]types.Middleware, error)

// builtins lists the configurable middlewares in registration order.
var builtins = []struct {
	name  string
	build builder
}{
	{"request-id", func(m *Manager, config *types.MiddlewareConfig) ([]types.Middleware, error) {
		return []types.Middleware{NewRequestIDMiddleware(config.Params, m.logger)}, nil
	}},
	{"logging", func(m *Manager, config *types.MiddlewareConfig) ([]types.Middleware, error) {
		return []types.Middleware{NewLoggingMiddleware(config.Params, m.logger)}, nil
	}},
	{"cors", func(m *Manager, config *types.MiddlewareConfig) ([]types.Middleware, error) {
		return []types.Middleware{NewCORSMiddleware(config.Params, m.logger)}, nil
	}},
	{"rate-limit", func(m *Manager, config *types.MiddlewareConfig) ([]types.Middleware, error) {
		return []types.Middleware{NewRateLimitMiddleware(m.ctx, config.Params, m.logger)}, nil
	}},
	{"body-limit", func(m *Manager, config *types.MiddlewareConfig) ([]types.Middleware, error) {
		return []types.Middleware{NewBodyLimitMiddleware(config.Params, m.logger)}, nil
	}},
	{"auth", func(m *Manager, config *types.MiddlewareConfig) ([]types.Middleware, error) {
		mw, err := NewAuthMiddleware(config.Params, m.logger)
		if err != nil {
			return nil, err
		}
		return []types.Middleware{mw}, nil
	}},
	{"json-body", func(m *Manager, config *types.MiddlewareConfig) ([]types.Middleware, error) {
		return []types.Middleware{NewJSONBodyMiddleware(config.Params, m.logger)}, nil
	}},
	{"cache", func(m *Manager, config *types.MiddlewareConfig) ([]types.Middleware, error) {
		if m.cache == nil {
			return nil, types.Errorf(types.ErrConfigIsNil, "cache middleware requires a cache store")
		}
		params := make(map[string]interface{}, len(config.Params)+1)
		if cacheConfig := m.config.GetConfig().Cache; cacheConfig != nil && cacheConfig.TTL > 0 {
			params["ttl"] = cacheConfig.TTL
		}
		for key, value := range config.Params {
			params[key] = value
		}
		lookup, store := NewCacheMiddlewares(params, m.logger, m.cache)
		return []types.Middleware{lookup, store}, nil
	}},
	{"compression", func(m *Manager, config *types.MiddlewareConfig) ([]types.Middleware, error) {
		return []types.Middleware{NewCompressionMiddleware(config.Params, m.logger)}, nil
	}},
	{"error-handler", func(m *Manager, config *types.MiddlewareConfig) ([]types.Middleware, error) {
		return []types.Middleware{NewErrorHandlerMiddleware(config.Params, m.logger)}, nil
	}},
}

type constrainable interface {
	AddBefore(kinds ...types.Kind)
	AddAfter(kinds ...types.Kind)
}

// Manager collects middlewares in registration order. Ordering is left to Sort.
type Manager struct {
	ctx         context.Context
	config      types.ConfigManager
	logger      types.Logger
	cache       types.CacheStore
	middlewares []types.Middleware
	mu          sync.RWMutex
	sealed      int32
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger, cache types.CacheStore) *Manager {
	return &Manager{
		ctx:    ctx,
		config: config,
		logger: logger,
		cache:  cache,
	}
}

// RegisterMiddlewares builds every built-in middleware enabled in the config.
func (m *Manager) RegisterMiddlewares() error {
	configured := m.config.GetConfig().Middlewares

	known := make(map[string]struct{}, len(builtins))
	for _, b := range builtins {
		known[b.name] = struct{}{}
	}
	for name := range configured {
		if _, ok := known[name]; !ok {
			return types.Errorf(types.ErrMiddlewareNotFound, "middleware: %s", name)
		}
	}

	for _, b := range builtins {
		itemConfig := configured[b.name]
		if itemConfig == nil || !itemConfig.Enabled {
			continue
		}

		middlewares, err := b.build(m, itemConfig)
		if err != nil {
			return types.WrapError(err, fmt.Sprintf("failed to build %s middleware", b.name))
		}

		for _, mw := range middlewares {
			applyConstraints(mw, itemConfig)
			if err := m.Register(mw); err != nil {
				return err
			}
		}

		m.logger.Info("Middleware registered", zap.String("name", b.name))
	}

	return nil
}

func (m *Manager) Register(middleware types.Middleware) error {
	if err := types.ValidateMiddleware(middleware); err != nil {
		return err
	}

	if atomic.LoadInt32(&m.sealed) == 1 {
		return types.Errorf(types.ErrMiddlewareRegistered, "middleware: %s", middleware.Kind())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.middlewares) >= MaxMiddlewares {
		return types.NewErrorf("maximum middleware count exceeded: %d", MaxMiddlewares)
	}

	m.middlewares = append(m.middlewares, middleware)
	return nil
}

// Middlewares returns the registered middlewares and closes registration.
func (m *Manager) Middlewares() []types.Middleware {
	atomic.StoreInt32(&m.sealed, 1)

	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]types.Middleware, len(m.middlewares))
	copy(result, m.middlewares)
	return result
}

func applyConstraints(mw types.Middleware, config *types.MiddlewareConfig) {
	c, ok := mw.(constrainable)
	if !ok {
		return
	}
	for _, kind := range config.Before {
		c.AddBefore(types.Kind(kind))
	}
	for _, kind := range config.After {
		c.AddAfter(types.Kind(kind))
	}
}
