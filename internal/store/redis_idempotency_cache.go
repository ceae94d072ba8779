package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/devrev/qrcore/internal/config"
	"github.com/devrev/qrcore/internal/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisIdempotencyCache implements IdempotencyCache on Redis
type RedisIdempotencyCache struct {
	client *redis.Client
	logger *zap.Logger
}

var _ IdempotencyCache = (*RedisIdempotencyCache)(nil)

// cachedRecord is the Redis value layout
type cachedRecord struct {
	ID          string    `json:"id"`
	RequestHash string    `json:"request_hash"`
	StatusCode  int       `json:"status_code"`
	Response    []byte    `json:"response"`
	CreatedAt   time.Time `json:"created_at"`
}

// redisKey length-prefixes the tenant so no (tenant, key) pair can spell
// another tenant's entry
func redisKey(tenantID, key string) string {
	return fmt.Sprintf("idempotency:%d:%s:%s", len(tenantID), tenantID, key)
}

// NewRedisIdempotencyCache connects to Redis and verifies the connection
func NewRedisIdempotencyCache(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*RedisIdempotencyCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisIdempotencyCacheFromClient(client, logger), nil
}

// NewRedisIdempotencyCacheFromClient wraps an existing client
func NewRedisIdempotencyCacheFromClient(client *redis.Client, logger *zap.Logger) *RedisIdempotencyCache {
	return &RedisIdempotencyCache{client: client, logger: logger}
}

// Get retrieves the cached record
func (c *RedisIdempotencyCache) Get(ctx context.Context, tenantID, key string) (*model.IdempotencyRecord, error) {
	data, err := c.client.Get(ctx, redisKey(tenantID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var cr cachedRecord
	if err := json.Unmarshal(data, &cr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached record: %w", err)
	}

	return &model.IdempotencyRecord{
		ID:          cr.ID,
		TenantID:    tenantID,
		Key:         key,
		RequestHash: cr.RequestHash,
		StatusCode:  cr.StatusCode,
		Response:    cr.Response,
		CreatedAt:   cr.CreatedAt,
	}, nil
}

// Set stores the record with TTL unless a live entry already exists
func (c *RedisIdempotencyCache) Set(ctx context.Context, rec *model.IdempotencyRecord, ttl time.Duration) error {
	data, err := json.Marshal(cachedRecord{
		ID:          rec.ID,
		RequestHash: rec.RequestHash,
		StatusCode:  rec.StatusCode,
		Response:    rec.Response,
		CreatedAt:   rec.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	return c.client.SetNX(ctx, redisKey(rec.TenantID, rec.Key), data, ttl).Err()
}

// Ping checks the Redis connection
func (c *RedisIdempotencyCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (c *RedisIdempotencyCache) Close() error {
	return c.client.Close()
}
