package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-webserver/types"
	"github.com/saiset-co/sai-webserver/utils"
)

const cacheKeyValue = "cache_key"

type ResponseCacheConfig struct {
	TTL       int      `json:"ttl"`
	Timeout   int      `json:"timeout"`
	VaryBy    []string `json:"vary_by"`
	SkipPaths []string `json:"skip_paths"`
}

type responseCache struct {
	logger      types.Logger
	store       types.CacheStore
	cacheConfig *ResponseCacheConfig
	skipPaths   map[string]bool
}

// CacheLookupMiddleware answers GET requests from the cache store.
type CacheLookupMiddleware struct {
	Base
	*responseCache
}

// CacheStoreMiddleware saves successful GET responses missed by CacheLookupMiddleware.
type CacheStoreMiddleware struct {
	Base
	*responseCache
}

func NewCacheMiddlewares(params map[string]interface{}, logger types.Logger, store types.CacheStore) (*CacheLookupMiddleware, *CacheStoreMiddleware) {
	var cacheConfig = &ResponseCacheConfig{
		TTL:     300,
		Timeout: 1,
	}

	if params != nil {
		err := utils.UnmarshalConfig(params, cacheConfig)
		if err != nil {
			logger.Error("Failed to unmarshal Cache middleware config", zap.Error(err))
		}
	}

	skipPaths := make(map[string]bool, len(cacheConfig.SkipPaths))
	for _, path := range cacheConfig.SkipPaths {
		skipPaths[path] = true
	}

	shared := &responseCache{
		logger:      logger,
		store:       store,
		cacheConfig: cacheConfig,
		skipPaths:   skipPaths,
	}

	lookup := &CacheLookupMiddleware{
		Base:          NewBase(KindCacheLookup, types.PhasePreController, WithAfter(KindAuth)),
		responseCache: shared,
	}

	saver := &CacheStoreMiddleware{
		Base:          NewBase(KindCacheStore, types.PhasePostController, WithBefore(KindCompression)),
		responseCache: shared,
	}

	return lookup, saver
}

func (l *CacheLookupMiddleware) Apply(c *types.Context) error {
	if c.Method() != http.MethodGet || l.skipPaths[c.Path()] {
		return nil
	}

	key := l.buildCacheKey(c)

	ctx, cancel := l.timeout()
	defer cancel()

	entry, found, err := l.store.Get(ctx, key)
	if err != nil {
		l.logger.Warn("Cache lookup failed", zap.String("cache_key", key), zap.Error(err))
		return nil
	}

	if !found {
		c.Set(cacheKeyValue, key)
		c.SetHeader("X-Cache", "MISS")
		return nil
	}

	l.logger.Debug("Cache hit", zap.String("cache_key", key), zap.String("path", c.Path()))

	for name, values := range entry.Header {
		for i, value := range values {
			if i == 0 {
				c.ResponseHeader().Set(name, value)
			} else {
				c.ResponseHeader().Add(name, value)
			}
		}
	}
	c.SetHeader("X-Cache", "HIT")
	c.SetStatus(entry.Status)
	c.SetResponseBody(entry.Body)

	return c.Finalize()
}

func (s *CacheStoreMiddleware) Apply(c *types.Context) error {
	value, ok := c.Get(cacheKeyValue)
	if !ok {
		return nil
	}
	key, _ := value.(string)

	if !s.shouldCacheResponse(c) {
		return nil
	}

	body, err := c.EncodeBody()
	if err != nil {
		return types.WrapError(err, "failed to encode response body")
	}
	c.SetResponseBody(body)

	header := c.ResponseHeader().Clone()
	header.Del("X-Cache")

	entry := &types.CacheEntry{
		Status:    c.Status(),
		Header:    header,
		Body:      body,
		CreatedAt: time.Now(),
	}

	ctx, cancel := s.timeout()
	defer cancel()

	if err := s.store.Set(ctx, key, entry, time.Duration(s.cacheConfig.TTL)*time.Second); err != nil {
		s.logger.Error("Failed to set cache", zap.String("cache_key", key), zap.Error(err))
		return nil
	}

	s.logger.Debug("Cache set", zap.String("cache_key", key), zap.String("path", c.Path()))
	return nil
}

func (r *responseCache) shouldCacheResponse(c *types.Context) bool {
	if c.Status() < 200 || c.Status() >= 300 || !c.HasResponseBody() {
		return false
	}

	cacheControl := strings.ToLower(c.ResponseHeader().Get("Cache-Control"))
	return !strings.Contains(cacheControl, "no-cache") && !strings.Contains(cacheControl, "no-store")
}

func (r *responseCache) buildCacheKey(c *types.Context) string {
	var sb strings.Builder
	sb.WriteString(c.Method())
	sb.WriteByte(' ')
	sb.WriteString(c.Path())

	if query := c.Query().Encode(); query != "" {
		sb.WriteByte('?')
		sb.WriteString(query)
	}

	for _, header := range r.cacheConfig.VaryBy {
		sb.WriteByte('|')
		sb.WriteString(header)
		sb.WriteByte('=')
		sb.WriteString(c.Header(header))
	}

	return sb.String()
}

func (r *responseCache) timeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Duration(r.cacheConfig.Timeout)*time.Second)
}
