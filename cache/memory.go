package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-webserver/types"
)

const (
	MaxTTL                 = 24 * time.Hour
	DefaultTTL             = 5 * time.Minute
	defaultCleanupInterval = time.Minute
)

type memoryItem struct {
	entry     *types.CacheEntry
	expiresAt time.Time
}

// MemoryStore is an in-process CacheStore with FIFO eviction once MaxEntries is reached.
type MemoryStore struct {
	logger      types.Logger
	maxEntries  int
	data        map[string]*memoryItem
	hits        uint64
	misses      uint64
	evictions   uint64
	mu          sync.RWMutex
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	closed      int32
}

func NewMemoryStore(logger types.Logger, maxEntries int, cleanupInterval time.Duration) *MemoryStore {
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}

	m := &MemoryStore{
		logger:      logger,
		maxEntries:  maxEntries,
		data:        make(map[string]*memoryItem),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	go m.startCleanupRoutine(cleanupInterval)

	return m
}

func (m *MemoryStore) Get(_ context.Context, key string) (*types.CacheEntry, bool, error) {
	if key == "" {
		return nil, false, types.ErrCacheKeyEmpty
	}

	now := time.Now()

	m.mu.RLock()
	item, exists := m.data[key]
	m.mu.RUnlock()

	if !exists {
		atomic.AddUint64(&m.misses, 1)
		return nil, false, nil
	}

	if now.After(item.expiresAt) {
		m.mu.Lock()
		if current, ok := m.data[key]; ok && now.After(current.expiresAt) {
			delete(m.data, key)
		}
		m.mu.Unlock()

		atomic.AddUint64(&m.misses, 1)
		return nil, false, nil
	}

	atomic.AddUint64(&m.hits, 1)
	return cloneEntry(item.entry), true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, entry *types.CacheEntry, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}
	if entry == nil {
		return types.Errorf(types.ErrConfigIsNil, "cache entry for %s", key)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if ttl > MaxTTL {
		ttl = MaxTTL
	}

	stored := cloneEntry(entry)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxEntries > 0 {
		if _, exists := m.data[key]; !exists && len(m.data) >= m.maxEntries {
			m.evictOneUnsafe()
		}
	}

	m.data[key] = &memoryItem{entry: stored, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

// Close stops the cleanup routine and drops every entry.
func (m *MemoryStore) Close() error {
	if !atomic.CompareAndSwapInt32(&m.closed, 0, 1) {
		return nil
	}

	close(m.stopCleanup)
	<-m.cleanupDone

	m.mu.Lock()
	m.data = make(map[string]*memoryItem)
	m.mu.Unlock()

	m.logger.Debug("Memory cache closed",
		zap.Uint64("hits", atomic.LoadUint64(&m.hits)),
		zap.Uint64("misses", atomic.LoadUint64(&m.misses)),
		zap.Uint64("evictions", atomic.LoadUint64(&m.evictions)))

	return nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.data)
}

func (m *MemoryStore) cleanup() {
	now := time.Now()

	m.mu.Lock()
	expired := 0
	for key, item := range m.data {
		if now.After(item.expiresAt) {
			delete(m.data, key)
			expired++
		}
	}
	m.mu.Unlock()

	if expired > 0 {
		m.logger.Debug("Cleanup completed", zap.Int("expired_entries", expired))
	}
}

func (m *MemoryStore) startCleanupRoutine(interval time.Duration) {
	defer close(m.cleanupDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCleanup:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

func (m *MemoryStore) evictOneUnsafe() {
	var (
		oldestKey  string
		oldestTime time.Time
	)

	for key, item := range m.data {
		if oldestKey == "" || item.entry.CreatedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = item.entry.CreatedAt
		}
	}

	if oldestKey != "" {
		delete(m.data, oldestKey)
		atomic.AddUint64(&m.evictions, 1)
	}
}

func cloneEntry(entry *types.CacheEntry) *types.CacheEntry {
	clone := &types.CacheEntry{
		Status:    entry.Status,
		Body:      append([]byte(nil), entry.Body...),
		CreatedAt: entry.CreatedAt,
	}

	if entry.Header != nil {
		clone.Header = make(map[string][]string, len(entry.Header))
		for key, values := range entry.Header {
			clone.Header[key] = append([]string(nil), values...)
		}
	}

	return clone
}
