package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	apperrors "github.com/fund-analytics/internal/errors"
	"github.com/fund-analytics/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisCacheFromClient(client)
}

func TestRedisLocker_AcquireRelease(t *testing.T) {
	mr, cache := newTestRedis(t)
	locker := NewRedisLocker(cache, time.Minute)
	ctx := testContext(t)
	key := HoldingLockKey(7, 11)
	assert.Equal(t, "lock:holding:7:11", key)

	release, err := locker.Acquire(ctx, key)
	require.NoError(t, err)
	assert.True(t, mr.Exists(key))

	_, err = locker.Acquire(ctx, key)
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
	assert.True(t, apperrors.Is(err, apperrors.CategoryCache))

	release()
	assert.False(t, mr.Exists(key))

	release2, err := locker.Acquire(ctx, key)
	require.NoError(t, err)
	release2()
}

func TestRedisLocker_ReleaseDoesNotStealForeignLock(t *testing.T) {
	mr, cache := newTestRedis(t)
	locker := NewRedisLocker(cache, time.Second)
	ctx := testContext(t)
	key := HoldingLockKey(1, 2)

	release, err := locker.Acquire(ctx, key)
	require.NoError(t, err)

	// the lock expires and another worker takes it
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set(key, "other-worker"))

	release()
	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "other-worker", got)
}

type stubSettingsSource struct {
	calls    int
	settings map[int64]*models.UserSettings
}

func (s *stubSettingsSource) Get(ctx context.Context, userID int64) (*models.UserSettings, error) {
	s.calls++
	if v, ok := s.settings[userID]; ok {
		return v, nil
	}
	return models.DefaultUserSettings(userID), nil
}

func (s *stubSettingsSource) Upsert(ctx context.Context, v *models.UserSettings) error {
	s.settings[v.UserID] = v
	return nil
}

func TestCachedSettings_ReadThroughAndInvalidate(t *testing.T) {
	_, cache := newTestRedis(t)
	source := &stubSettingsSource{settings: map[int64]*models.UserSettings{}}
	store := NewCachedSettings(source, NewCacheService(cache, time.Minute))
	ctx := testContext(t)

	first, err := store.Get(ctx, 5)
	require.NoError(t, err)
	assert.True(t, first.RiskFreeRate.Equal(decimal.NewFromFloat(0.02)))

	_, err = store.Get(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, source.calls, "second read should be served from cache")

	require.NoError(t, store.Upsert(ctx, &models.UserSettings{UserID: 5, RiskFreeRate: decimal.NewFromFloat(0.03)}))

	updated, err := store.Get(ctx, 5)
	require.NoError(t, err)
	assert.True(t, updated.RiskFreeRate.Equal(decimal.NewFromFloat(0.03)))
	assert.Equal(t, 2, source.calls)
}

func TestCacheService_Miss(t *testing.T) {
	_, cache := newTestRedis(t)
	svc := NewCacheService(cache, time.Minute)

	var dest map[string]string
	hit, err := svc.Get(testContext(t), svc.GenerateCacheKey(CacheKeyWindows), &dest)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.False(t, errors.Is(err, redis.Nil))
}

type countingWindows struct {
	calls int
}

func (c *countingWindows) Windows(ctx context.Context) ([]models.AnalyticsWindow, error) {
	c.calls++
	return models.DefaultWindows(), nil
}

func TestCachedWindows_ReadThrough(t *testing.T) {
	_, cache := newTestRedis(t)
	source := &countingWindows{}
	windows := NewCachedWindows(source, NewCacheService(cache, time.Minute))
	ctx := testContext(t)

	first, err := windows.Windows(ctx)
	require.NoError(t, err)
	second, err := windows.Windows(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, second, 6)
	assert.Equal(t, 1, source.calls)
}
