package store

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/devrev/qrcore/internal/model"
	"go.uber.org/zap"
)

// InMemoryIdempotencyCache implements IdempotencyCache using an in-memory map
type InMemoryIdempotencyCache struct {
	data    map[tenantScoped]*cacheItem
	mu      sync.RWMutex
	maxSize int
	clock   clock.Clock
	logger  *zap.Logger
	done    chan struct{}
	once    sync.Once
}

var _ IdempotencyCache = (*InMemoryIdempotencyCache)(nil)

type cacheItem struct {
	record    model.IdempotencyRecord
	expiresAt time.Time
}

// NewInMemoryIdempotencyCache creates a new in-memory cache and starts its cleanup loop
func NewInMemoryIdempotencyCache(maxSize int, clk clock.Clock, logger *zap.Logger) *InMemoryIdempotencyCache {
	cache := &InMemoryIdempotencyCache{
		data:    make(map[tenantScoped]*cacheItem),
		maxSize: maxSize,
		clock:   clk,
		logger:  logger,
		done:    make(chan struct{}),
	}

	go cache.cleanup()

	return cache
}


// Get returns a copy of the cached record
func (c *InMemoryIdempotencyCache) Get(ctx context.Context, tenantID, key string) (*model.IdempotencyRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, exists := c.data[tenantScoped{tenantID, key}]
	if !exists {
		return nil, ErrNotFound
	}

	if c.clock.Now().After(item.expiresAt) {
		return nil, ErrNotFound
	}

	rec := item.record
	return &rec, nil
}

// Set stores the record with TTL. An existing live entry for the key is kept.
func (c *InMemoryIdempotencyCache) Set(ctx context.Context, rec *model.IdempotencyRecord, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	k := tenantScoped{rec.TenantID, rec.Key}
	if item, ok := c.data[k]; ok && now.Before(item.expiresAt) {
		return nil
	}

	// Simple size-based eviction: drop an expired entry, else any entry
	if c.maxSize > 0 && len(c.data) >= c.maxSize {
		for key, item := range c.data {
			if now.After(item.expiresAt) {
				delete(c.data, key)
				break
			}
		}
		if len(c.data) >= c.maxSize {
			for key := range c.data {
				delete(c.data, key)
				break
			}
		}
	}

	c.data[k] = &cacheItem{
		record:    *rec,
		expiresAt: now.Add(ttl),
	}

	return nil
}

// Ping always succeeds
func (c *InMemoryIdempotencyCache) Ping(ctx context.Context) error {
	return nil
}

// Close stops the cleanup loop
func (c *InMemoryIdempotencyCache) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// cleanup periodically removes expired entries
func (c *InMemoryIdempotencyCache) cleanup() {
	ticker := c.clock.Ticker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := c.clock.Now()
			for key, item := range c.data {
				if now.After(item.expiresAt) {
					delete(c.data, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Size returns the number of items in cache
func (c *InMemoryIdempotencyCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
