package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewLimiter(client, "test"), mr
}

func TestAllow_CountsWithinWindow(t *testing.T) {
	l, mr := newLimiter(t)
	ctx := context.Background()
	cfg := LimitConfig{Rate: 2, Window: 10 * time.Second}
	key := l.Key(ScopeAPI, "10.0.0.1")

	d, err := l.Allow(ctx, ScopeAPI, key, cfg)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)

	d, err = l.Allow(ctx, ScopeAPI, key, cfg)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	d, err = l.Allow(ctx, ScopeAPI, key, cfg)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 10, d.RetryAfter)

	mr.FastForward(11 * time.Second)
	d, err = l.Allow(ctx, ScopeAPI, key, cfg)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestAllow_KeysAreScopedAndHashed(t *testing.T) {
	l, _ := newLimiter(t)
	a := l.Key(ScopeAPI, "10.0.0.1")
	assert.NotEqual(t, a, l.Key(ScopeViewer, "10.0.0.1"))
	assert.NotEqual(t, a, l.Key(ScopeAPI, "10.0.0.2"))
	assert.NotContains(t, a, "10.0.0.1")
}

func TestAllow_RedisDown(t *testing.T) {
	l, mr := newLimiter(t)
	mr.Close()

	_, err := l.Allow(context.Background(), ScopeAPI, "k", LimitConfig{Rate: 1, Window: time.Second})
	assert.ErrorIs(t, err, ErrRedisUnavailable)
}
