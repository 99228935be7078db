// File: /services/cache_service.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "tourops"

// CacheService caches JSON responses in redis under
// tourops:{entity}:{scope}:{parts...}, where scope is a tenant id or "all".
// A nil client turns every call into a miss.
type CacheService struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCacheService(client *redis.Client, ttl time.Duration, logger *zap.Logger) *CacheService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// NewRedisClient connects to addr and pings it
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func (s *CacheService) Enabled() bool {
	return s != nil && s.client != nil
}

// Ping reports redis health; a disabled cache is healthy.
func (s *CacheService) Ping(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	return s.client.Ping(ctx).Err()
}

func scopePart(tenantID uint) string {
	if tenantID == 0 {
		return "all"
	}
	return fmt.Sprintf("%d", tenantID)
}

// Key builds a cache key for an entity within a tenant scope. tenantID 0
// is the cross-tenant scope.
func (s *CacheService) Key(entity string, tenantID uint, parts ...string) string {
	segments := append([]string{cacheKeyPrefix, entity, scopePart(tenantID)}, parts...)
	return strings.Join(segments, ":")
}

// GetJSON decodes a cached value into dest. It reports false on a miss or
// when the cache is unavailable.
func (s *CacheService) GetJSON(ctx context.Context, key string, dest interface{}) bool {
	if !s.Enabled() {
		return false
	}

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		s.logger.Warn("Cache entry is not valid JSON", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (s *CacheService) SetJSON(ctx context.Context, key string, value interface{}) {
	if !s.Enabled() {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("Failed to encode cache entry", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		s.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// InvalidateScope drops the entity's keys for the tenant and for the
// cross-tenant scope. Keys of other entities and other tenants survive.
func (s *CacheService) InvalidateScope(ctx context.Context, entity string, tenantID uint) {
	if !s.Enabled() {
		return
	}

	scopes := []uint{0}
	if tenantID != 0 {
		scopes = append(scopes, tenantID)
	}

	for _, scope := range scopes {
		pattern := s.Key(entity, scope, "*")
		if err := s.deleteMatching(ctx, pattern); err != nil {
			s.logger.Warn("Cache invalidation failed", zap.String("pattern", pattern), zap.Error(err))
		}
	}
}

func (s *CacheService) deleteMatching(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
