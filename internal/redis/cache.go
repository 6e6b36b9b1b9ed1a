package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ProviderStatusTTL keeps the provider dashboard from health-checking every
// provider on each request.
const ProviderStatusTTL = 5 * time.Second

const providerStatusKey = "cache:providers:status"

// CacheStore handles short-lived JSON caching in Redis.
type CacheStore struct {
	client redis.Cmdable
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client redis.Cmdable) *CacheStore {
	return &CacheStore{client: client}
}

// GetProviderStatus loads the cached dashboard into dest.
// Returns false on a cache miss.
func (s *CacheStore) GetProviderStatus(ctx context.Context, dest any) (bool, error) {
	return s.get(ctx, providerStatusKey, dest)
}

// SetProviderStatus stores the dashboard.
func (s *CacheStore) SetProviderStatus(ctx context.Context, status any) error {
	return s.set(ctx, providerStatusKey, status, ProviderStatusTTL)
}

// InvalidateProviderStatus drops the cached dashboard after an operator change.
func (s *CacheStore) InvalidateProviderStatus(ctx context.Context) error {
	return s.client.Del(ctx, providerStatusKey).Err()
}

func (s *CacheStore) get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil // Cache miss
		}
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (s *CacheStore) set(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}
