package middleware

import (
	"context"
	"hash/fnv"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/saiset-co/sai-webserver/types"
	"github.com/saiset-co/sai-webserver/utils"
)

const shardCount = 64

type RateLimitMiddleware struct {
	Base
	logger          types.Logger
	rateLimitConfig *RateLimitConfig
	shards          [shardCount]*rateLimitShard
	limit           rate.Limit
}

type rateLimitShard struct {
	clients map[string]*clientLimiter
	mu      sync.Mutex
}

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

type RateLimitConfig struct {
	RequestsPerMinute int64 `json:"requests_per_minute"`
	BurstSize         int   `json:"burst_size"`
	CleanupInterval   int   `json:"cleanup_interval"`
	IdleTimeout       int   `json:"idle_timeout"`
}

func NewRateLimitMiddleware(ctx context.Context, params map[string]interface{}, logger types.Logger) *RateLimitMiddleware {
	var rateLimitConfig = &RateLimitConfig{
		RequestsPerMinute: 100,
		BurstSize:         20,
		CleanupInterval:   60,
		IdleTimeout:       300,
	}

	if params != nil {
		err := utils.UnmarshalConfig(params, rateLimitConfig)
		if err != nil {
			logger.Error("Failed to unmarshal RateLimit middleware config", zap.Error(err))
		}
	}

	rl := &RateLimitMiddleware{
		Base:            NewBase(KindRateLimit, types.PhasePreController, WithBefore(KindAuth)),
		logger:          logger,
		rateLimitConfig: rateLimitConfig,
		limit:           rate.Limit(float64(rateLimitConfig.RequestsPerMinute) / 60),
	}

	for i := range rl.shards {
		rl.shards[i] = &rateLimitShard{
			clients: make(map[string]*clientLimiter, 64),
		}
	}

	if ctx != nil && rateLimitConfig.CleanupInterval > 0 {
		go rl.cleanupWorker(ctx)
	}

	return rl
}

func (rl *RateLimitMiddleware) Apply(c *types.Context) error {
	client := clientIP(c)

	if rl.allow(client, time.Now()) {
		return nil
	}

	rl.logger.Warn("Rate limit exceeded",
		zap.String("client", client),
		zap.String("path", c.Path()))

	retryAfter := 1
	if rl.limit > 0 {
		retryAfter = int(math.Ceil(1 / float64(rl.limit)))
	}
	c.SetHeader("Retry-After", strconv.Itoa(retryAfter))

	return respond(c, http.StatusTooManyRequests, "Rate limit exceeded")
}

func (rl *RateLimitMiddleware) allow(client string, now time.Time) bool {
	shard := rl.shard(client)

	shard.mu.Lock()
	entry, exists := shard.clients[client]
	if !exists {
		entry = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.rateLimitConfig.BurstSize)}
		shard.clients[client] = entry
	}
	entry.lastAccess = now
	shard.mu.Unlock()

	return entry.limiter.AllowN(now, 1)
}

func (rl *RateLimitMiddleware) shard(client string) *rateLimitShard {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(client))
	return rl.shards[hasher.Sum32()%shardCount]
}

func (rl *RateLimitMiddleware) cleanupWorker(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(rl.rateLimitConfig.CleanupInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.cleanup(now)
		}
	}
}

func (rl *RateLimitMiddleware) cleanup(now time.Time) {
	idle := time.Duration(rl.rateLimitConfig.IdleTimeout) * time.Second

	for _, shard := range rl.shards {
		shard.mu.Lock()
		for client, entry := range shard.clients {
			if now.Sub(entry.lastAccess) > idle {
				delete(shard.clients, client)
			}
		}
		shard.mu.Unlock()
	}
}

func clientIP(c *types.Context) string {
	if realIP := c.Header("X-Real-IP"); realIP != "" {
		return realIP
	}

	if forwarded := c.Header("X-Forwarded-For"); forwarded != "" {
		if comma := strings.Index(forwarded, ","); comma > 0 {
			return strings.TrimSpace(forwarded[:comma])
		}
		return strings.TrimSpace(forwarded)
	}

	if host, _, err := net.SplitHostPort(c.RemoteAddr()); err == nil {
		return host
	}

	return c.RemoteAddr()
}
