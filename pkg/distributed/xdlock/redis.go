package xdlock

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/go-redsync/redsync/v4"
	rsredis "github.com/go-redsync/redsync/v4/redis"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

type redisFactory struct {
	rs     *redsync.Redsync
	closed atomic.Bool
}

// NewRedisFactory 单节点为标准 Redis 锁，多节点使用 Redlock（需过半成功）
func NewRedisFactory(clients ...redis.UniversalClient) (Factory, error) {
	if len(clients) == 0 {
		return nil, ErrNilClient
	}
	pools := make([]rsredis.Pool, len(clients))
	for i, c := range clients {
		if c == nil {
			return nil, fmt.Errorf("%w: index %d", ErrNilClient, i)
		}
		pools[i] = goredis.NewPool(c)
	}
	return &redisFactory{rs: redsync.New(pools...)}, nil
}

func (f *redisFactory) TryLock(ctx context.Context, key string, opts ...MutexOption) (LockHandle, error) {
	if f.closed.Load() {
		return nil, ErrFactoryClosed
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	o := defaultMutexOptions()
	for _, opt := range opts {
		opt(o)
	}
	full := o.KeyPrefix + key
	m := f.rs.NewMutex(full, redsync.WithExpiry(o.Expiry), redsync.WithTries(1))
	if err := m.TryLockContext(ctx); err != nil {
		err = wrapRedisError(err)
		if errors.Is(err, ErrLockHeld) {
			return nil, nil
		}
		return nil, err
	}
	return &redisLockHandle{mutex: m, key: full}, nil
}

func (f *redisFactory) Close() error {
	f.closed.Store(true)
	return nil
}

type redisLockHandle struct {
	mutex *redsync.Mutex
	key   string
}

func (h *redisLockHandle) Unlock(ctx context.Context) error {
	ok, err := h.mutex.UnlockContext(ctx)
	if err != nil {
		var taken *redsync.ErrTaken
		if errors.As(err, &taken) || errors.Is(err, redsync.ErrLockAlreadyExpired) {
			return ErrNotLocked
		}
		return wrapRedisError(err)
	}
	if !ok {
		return ErrNotLocked
	}
	return nil
}

func (h *redisLockHandle) Extend(ctx context.Context) error {
	ok, err := h.mutex.ExtendContext(ctx)
	if err != nil {
		return wrapRedisError(err)
	}
	if !ok {
		return ErrNotLocked
	}
	return nil
}

func (h *redisLockHandle) Key() string { return h.key }

// wrapRedisError 保留原始错误链
func wrapRedisError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var taken *redsync.ErrTaken
	if errors.As(err, &taken) {
		return fmt.Errorf("%w: %w", ErrLockHeld, err)
	}
	if errors.Is(err, redsync.ErrFailed) {
		return fmt.Errorf("%w: %w", ErrLockFailed, err)
	}
	if errors.Is(err, redsync.ErrExtendFailed) {
		return fmt.Errorf("%w: %w", ErrExtendFailed, err)
	}
	return err
}
