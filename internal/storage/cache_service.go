package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fund-analytics/internal/models"
	"github.com/redis/go-redis/v9"
)

// CacheKeyType represents different types of cache keys
type CacheKeyType string

const (
	// CacheKeySettings is for per-user analytics settings
	CacheKeySettings CacheKeyType = "settings"
	// CacheKeyWindows is for the analytics window set
	CacheKeyWindows CacheKeyType = "windows"
)

// CacheService provides JSON caching on top of Redis
type CacheService struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewCacheService creates a new cache service
func NewCacheService(redis *RedisCache, ttl time.Duration) *CacheService {
	return &CacheService{redis: redis, ttl: ttl}
}

// GenerateCacheKey generates a cache key for a given type and parameters
// Format: <type>:<param1>:<param2>:...
func (c *CacheService) GenerateCacheKey(keyType CacheKeyType, params ...string) string {
	parts := append([]string{string(keyType)}, params...)
	return strings.Join(parts, ":")
}

// Set stores a value in cache with the configured TTL
func (c *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.redis.Set(ctx, key, data, c.ttl)
}

// Get retrieves a value from cache and deserializes it
func (c *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.redis.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get from cache: %w", err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return true, nil
}

// Invalidate removes one or more keys from cache
func (c *CacheService) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...)
}

// settingsSource is the persistent store behind CachedSettings
type settingsSource interface {
	Get(ctx context.Context, userID int64) (*models.UserSettings, error)
	Upsert(ctx context.Context, s *models.UserSettings) error
}

// CachedSettings is a read-through cache of user settings.
// Cache failures fall back to the source.
type CachedSettings struct {
	source settingsSource
	cache  *CacheService
}

// NewCachedSettings creates a read-through settings store
func NewCachedSettings(source settingsSource, cache *CacheService) *CachedSettings {
	return &CachedSettings{source: source, cache: cache}
}

// Get returns the user's settings
func (s *CachedSettings) Get(ctx context.Context, userID int64) (*models.UserSettings, error) {
	key := s.cache.GenerateCacheKey(CacheKeySettings, fmt.Sprint(userID))

	var cached models.UserSettings
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return &cached, nil
	}

	settings, err := s.source.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	_ = s.cache.Set(ctx, key, settings) // nolint:errcheck // best effort
	return settings, nil
}

// Upsert stores the settings and drops the cached copy
func (s *CachedSettings) Upsert(ctx context.Context, settings *models.UserSettings) error {
	if err := s.source.Upsert(ctx, settings); err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, s.cache.GenerateCacheKey(CacheKeySettings, fmt.Sprint(settings.UserID)))
}

// windowSource is the persistent store behind CachedWindows
type windowSource interface {
	Windows(ctx context.Context) ([]models.AnalyticsWindow, error)
}

// CachedWindows caches the analytics window set, which changes only through migrations
type CachedWindows struct {
	source windowSource
	cache  *CacheService
}

// NewCachedWindows creates a read-through window store
func NewCachedWindows(source windowSource, cache *CacheService) *CachedWindows {
	return &CachedWindows{source: source, cache: cache}
}

// Windows returns the configured analytics windows
func (w *CachedWindows) Windows(ctx context.Context) ([]models.AnalyticsWindow, error) {
	key := w.cache.GenerateCacheKey(CacheKeyWindows)

	var cached []models.AnalyticsWindow
	if hit, err := w.cache.Get(ctx, key, &cached); err == nil && hit && len(cached) > 0 {
		return cached, nil
	}

	windows, err := w.source.Windows(ctx)
	if err != nil {
		return nil, err
	}
	_ = w.cache.Set(ctx, key, windows) // nolint:errcheck // best effort
	return windows, nil
}
