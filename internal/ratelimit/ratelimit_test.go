package ratelimit

import (
	"context"
	"testing"
	"time"

	"iconforge/internal/domain/plans"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb, "ratelimit"), mr
}

func testCatalog() *plans.Catalog {
	return plans.NewCatalog(map[string]string{"price_free": "free", "price_ent": "enterprise"}, nil)
}

func TestCheckAllowsUnderLimit(t *testing.T) {
	l, _ := newTestLimiter(t)
	free := testCatalog().Get("free") // 20/hour

	for i := 0; i < 20; i++ {
		res, err := l.Check(context.Background(), "1", free)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 19-i, res.Remaining)
		assert.Equal(t, 0, res.RetryAfterSeconds)
	}
}

func TestCheckBlocksOverLimit(t *testing.T) {
	l, _ := newTestLimiter(t)
	free := testCatalog().Get("free")

	for i := 0; i < 20; i++ {
		_, err := l.Check(context.Background(), "1", free)
		require.NoError(t, err)
	}

	res, err := l.Check(context.Background(), "1", free)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Greater(t, res.RetryAfterSeconds, 0)
	assert.True(t, res.ResetAt.After(time.Now()))
}

func TestWindowsAreIndependentPerSubject(t *testing.T) {
	l, _ := newTestLimiter(t)
	free := testCatalog().Get("free")

	for i := 0; i < 20; i++ {
		_, err := l.Check(context.Background(), "1", free)
		require.NoError(t, err)
	}

	res, err := l.Check(context.Background(), TeamSubject("t-1"), free)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Check(context.Background(), "2", free)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestWindowResets(t *testing.T) {
	l, mr := newTestLimiter(t)
	free := testCatalog().Get("free")

	for i := 0; i < 21; i++ {
		_, err := l.Check(context.Background(), "1", free)
		require.NoError(t, err)
	}

	mr.FastForward(time.Hour)

	res, err := l.Check(context.Background(), "1", free)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 19, res.Remaining)
}

func TestUnlimitedPlansGetFiniteCeiling(t *testing.T) {
	l, _ := newTestLimiter(t)
	ent := testCatalog().Get("enterprise")

	res, err := l.Check(context.Background(), "1", ent)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, unlimitedCeiling-1, res.Remaining)
}

func TestCheckRepairsCounterWithoutExpiry(t *testing.T) {
	l, mr := newTestLimiter(t)
	free := testCatalog().Get("free")

	// A counter left behind with no TTL must pick one up on the next hit
	// instead of limiting the subject forever.
	require.NoError(t, mr.Set("ratelimit:free:1", "5"))

	res, err := l.Check(context.Background(), "1", free)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Greater(t, mr.TTL("ratelimit:free:1"), time.Duration(0))
}

func TestCheckFailsOpenWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := New(rdb, "ratelimit")
	mr.Close()

	res, err := l.Check(context.Background(), "1", testCatalog().Get("free"))
	assert.Error(t, err)
	assert.True(t, res.Allowed)
}
