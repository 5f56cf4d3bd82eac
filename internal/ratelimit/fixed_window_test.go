package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aman-churiwal/admission-engine/internal/models"
	"github.com/aman-churiwal/admission-engine/internal/policy"
	"github.com/aman-churiwal/admission-engine/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) (*miniredis.Miniredis, *Limiter) {
	mr := miniredis.RunT(t)

	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rc.Close()
	})

	return mr, NewLimiter(storage.NewRedisFromClient(rc))
}

func freeEffective() policy.Effective {
	return policy.Effective{
		Tier:              models.TierFree,
		RequestsPerWindow: 100,
		Window:            time.Hour,
	}
}

func TestCheckAdmitsExactlyTheWindowLimit(t *testing.T) {
	_, limiter := newTestLimiter(t)
	ctx := context.Background()
	eff := freeEffective()

	for i := 0; i < 100; i++ {
		res, err := limiter.Check(ctx, eff, "user-1", "tenant-1")
		require.NoError(t, err)
		require.True(t, res.Allowed, "call %d should be admitted", i+1)
	}

	res, err := limiter.Check(ctx, eff, "user-1", "tenant-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed, "call 101 within the window must be denied")
	assert.Equal(t, 3600, res.RetryAfter)
	assert.Equal(t, 100, res.Limit)
	assert.Equal(t, 0, res.Remaining)
}

func TestCheckDeniedProbesConsumeTheWindow(t *testing.T) {
	mr, limiter := newTestLimiter(t)
	ctx := context.Background()
	eff := freeEffective()
	eff.RequestsPerWindow = 2

	for i := 0; i < 5; i++ {
		_, err := limiter.Check(ctx, eff, "prober", "tenant-1")
		require.NoError(t, err)
	}

	// all five attempts counted, not just the two admitted ones
	val, err := mr.Get("ratelimit:free:general:prober:tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "5", val)
}

func TestCheckKeysAreScopedPerCaller(t *testing.T) {
	_, limiter := newTestLimiter(t)
	ctx := context.Background()
	eff := freeEffective()
	eff.RequestsPerWindow = 1

	res, err := limiter.Check(ctx, eff, "user-1", "tenant-1")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = limiter.Check(ctx, eff, "user-1", "tenant-1")
	require.NoError(t, err)
	require.False(t, res.Allowed)

	// a different user in the same tenant has their own window
	res, err = limiter.Check(ctx, eff, "user-2", "tenant-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestCheckSetsWindowExpiry(t *testing.T) {
	mr, limiter := newTestLimiter(t)
	ctx := context.Background()
	eff := freeEffective()

	_, err := limiter.Check(ctx, eff, "user-1", "tenant-1")
	require.NoError(t, err)

	ttl := mr.TTL("ratelimit:free:general:user-1:tenant-1")
	assert.Equal(t, time.Hour, ttl)
}

func TestCheckWindowResetsAfterExpiry(t *testing.T) {
	mr, limiter := newTestLimiter(t)
	ctx := context.Background()
	eff := freeEffective()
	eff.RequestsPerWindow = 1

	_, err := limiter.Check(ctx, eff, "user-1", "tenant-1")
	require.NoError(t, err)

	res, err := limiter.Check(ctx, eff, "user-1", "tenant-1")
	require.NoError(t, err)
	require.False(t, res.Allowed)

	mr.FastForward(time.Hour + time.Second)

	res, err = limiter.Check(ctx, eff, "user-1", "tenant-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "a fresh window starts once the counter expires")
}

func TestCheckEndpointOverrideUsesItsOwnCounter(t *testing.T) {
	_, limiter := newTestLimiter(t)
	ctx := context.Background()

	overridden := policy.Effective{
		Tier:              models.TierFree,
		Endpoint:          "/api/ai/generate",
		RequestsPerWindow: 10,
		Window:            time.Hour,
		Cost:              10,
	}

	for i := 0; i < 10; i++ {
		res, err := limiter.Check(ctx, overridden, "user-1", "tenant-1")
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	res, err := limiter.Check(ctx, overridden, "user-1", "tenant-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed, "11th call to the overridden endpoint is denied")

	// the general limit is untouched
	res, err = limiter.Check(ctx, freeEffective(), "user-1", "tenant-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestCheckUnlimitedNeverTouchesTheStore(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(failingStore{})

	res, err := limiter.Check(ctx, policy.Effective{Tier: models.TierUnlimited, Unlimited: true}, "user-1", "tenant-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestCheckSurfacesStoreErrors(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(failingStore{})

	_, err := limiter.Check(ctx, freeEffective(), "user-1", "tenant-1")
	assert.Error(t, err)
}

type failingStore struct{}

func (failingStore) Incr(ctx context.Context, key string) (int64, error) {
	return 0, errors.New("store down")
}

func (failingStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return errors.New("store down")
}
