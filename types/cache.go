package types

import (
	"context"
	"time"
)

// CacheStore keeps encoded responses keyed by request.
type CacheStore interface {
	Get(ctx context.Context, key string) (*CacheEntry, bool, error)
	Set(ctx context.Context, key string, entry *CacheEntry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

type CacheEntry struct {
	Status    int                 `json:"status"`
	Header    map[string][]string `json:"header"`
	Body      []byte              `json:"body"`
	CreatedAt time.Time           `json:"created_at"`
}
