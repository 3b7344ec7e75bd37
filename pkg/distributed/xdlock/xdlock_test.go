package xdlock_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xrelay/pkg/distributed/xdlock"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func factories(t *testing.T) map[string]xdlock.Factory {
	t.Helper()
	_, client := setupMiniredis(t)
	rf, err := xdlock.NewRedisFactory(client)
	require.NoError(t, err)
	return map[string]xdlock.Factory{
		"redis": rf,
		"local": xdlock.NewLocalFactory(),
	}
}

func TestFactory_MutualExclusion(t *testing.T) {
	for name, f := range factories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h, err := f.TryLock(ctx, "queue-maintenance", xdlock.WithExpiry(time.Minute))
			require.NoError(t, err)
			require.NotNil(t, h)
			assert.Equal(t, "xrelay:lock:queue-maintenance", h.Key())

			other, err := f.TryLock(ctx, "queue-maintenance")
			require.NoError(t, err)
			assert.Nil(t, other, "held lock returns nil handle")

			require.NoError(t, h.Extend(ctx))
			require.NoError(t, h.Unlock(ctx))
			assert.ErrorIs(t, h.Unlock(ctx), xdlock.ErrNotLocked)

			again, err := f.TryLock(ctx, "queue-maintenance")
			require.NoError(t, err)
			require.NotNil(t, again)
			require.NoError(t, again.Unlock(ctx))
		})
	}
}

func TestFactory_Validation(t *testing.T) {
	for name, f := range factories(t) {
		t.Run(name, func(t *testing.T) {
			_, err := f.TryLock(context.Background(), " ")
			assert.ErrorIs(t, err, xdlock.ErrEmptyKey)

			require.NoError(t, f.Close())
			_, err = f.TryLock(context.Background(), "k")
			assert.ErrorIs(t, err, xdlock.ErrFactoryClosed)
		})
	}

	_, err := xdlock.NewRedisFactory()
	assert.ErrorIs(t, err, xdlock.ErrNilClient)
	_, err = xdlock.NewRedisFactory(nil)
	assert.ErrorIs(t, err, xdlock.ErrNilClient)
}

func TestRedisFactory_Expiry(t *testing.T) {
	mr, client := setupMiniredis(t)
	f, err := xdlock.NewRedisFactory(client)
	require.NoError(t, err)
	ctx := context.Background()

	h, err := f.TryLock(ctx, "k", xdlock.WithExpiry(time.Second))
	require.NoError(t, err)
	require.NotNil(t, h)

	mr.FastForward(2 * time.Second)
	h2, err := f.TryLock(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, h2, "expired lock can be re-acquired")
	assert.ErrorIs(t, h.Unlock(ctx), xdlock.ErrNotLocked)
}
