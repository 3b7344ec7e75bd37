package xlimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xrelay/pkg/context/xctx"
	"github.com/omeyang/xrelay/pkg/resilience/xlimit"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisBackend_FixedWindow(t *testing.T) {
	mr, client := setupMiniredis(t)
	backend, err := xlimit.NewRedisBackend(client, "")
	require.NoError(t, err)

	clock := newFakeClock()
	l := newLimiter(t, clock, xlimit.WithBackend(backend))
	ctx := context.Background()
	id := xctx.Identity{Tenant: "acme", User: "u1"}

	for i := 1; i <= 5; i++ {
		res, err := l.Admit(ctx, id, xlimit.TierStrict)
		require.NoError(t, err)
		assert.Equal(t, 5-i, res.Remaining)
	}
	res, err := l.Admit(ctx, id, xlimit.TierStrict)
	require.ErrorIs(t, err, xlimit.ErrDenied)
	assert.Equal(t, time.Minute, res.RetryAfter)

	val, err := mr.Get(xlimit.DefaultRedisPrefix + "strict:t:acme:u:u1")
	require.NoError(t, err)
	assert.Equal(t, "5", val, "denied request must not increment")

	peek, err := l.Peek(ctx, id, xlimit.TierStrict)
	require.NoError(t, err)
	assert.Equal(t, 0, peek.Remaining)

	mr.FastForward(time.Minute)
	res, err = l.Admit(ctx, id, xlimit.TierStrict)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Remaining)

	require.NoError(t, l.Reset(ctx, id, xlimit.TierStrict))
	assert.False(t, mr.Exists(xlimit.DefaultRedisPrefix+"strict:t:acme:u:u1"))
}

func TestRedisBackend_SharedAcrossLimiters(t *testing.T) {
	_, client := setupMiniredis(t)
	backend, err := xlimit.NewRedisBackend(client, "test:")
	require.NoError(t, err)
	clock := newFakeClock()
	a := newLimiter(t, clock, xlimit.WithBackend(backend))
	b := newLimiter(t, clock, xlimit.WithBackend(backend))
	id := xctx.Identity{IP: "10.0.0.9"}

	for range 3 {
		_, err := a.Admit(context.Background(), id, xlimit.TierStrict)
		require.NoError(t, err)
	}
	for range 2 {
		_, err := b.Admit(context.Background(), id, xlimit.TierStrict)
		require.NoError(t, err)
	}
	_, err = a.Admit(context.Background(), id, xlimit.TierStrict)
	assert.ErrorIs(t, err, xlimit.ErrDenied)
}

func TestFallback_LocalWhenRedisDown(t *testing.T) {
	mr, client := setupMiniredis(t)
	backend, err := xlimit.NewRedisBackend(client, "")
	require.NoError(t, err)
	l := newLimiter(t, newFakeClock(), xlimit.WithBackend(backend), xlimit.WithFallback(xlimit.FallbackLocal))
	mr.Close()

	id := xctx.Identity{IP: "1.1.1.1"}
	for range 5 {
		_, err := l.Admit(context.Background(), id, xlimit.TierStrict)
		require.NoError(t, err)
	}
	_, err = l.Admit(context.Background(), id, xlimit.TierStrict)
	assert.ErrorIs(t, err, xlimit.ErrDenied)
	assert.Equal(t, "redis+fallback", l.Backend().Type())
}

func TestFallback_Strategies(t *testing.T) {
	mr, client := setupMiniredis(t)
	backend, err := xlimit.NewRedisBackend(client, "")
	require.NoError(t, err)
	mr.Close()
	id := xctx.Identity{IP: "1.1.1.1"}

	open := newLimiter(t, newFakeClock(), xlimit.WithBackend(backend), xlimit.WithFallback(xlimit.FallbackOpen))
	for range 10 {
		_, err := open.Admit(context.Background(), id, xlimit.TierStrict)
		require.NoError(t, err)
	}

	closed := newLimiter(t, newFakeClock(), xlimit.WithBackend(backend), xlimit.WithFallback(xlimit.FallbackClose))
	_, err = closed.Admit(context.Background(), id, xlimit.TierStrict)
	require.Error(t, err)
	assert.ErrorIs(t, err, xlimit.ErrBackendUnavailable)
	assert.False(t, xlimit.IsDenied(err))

	_, err = xlimit.New(xlimit.WithBackend(backend), xlimit.WithFallback("sideways"))
	assert.ErrorIs(t, err, xlimit.ErrInvalidFallbackMode)
}
