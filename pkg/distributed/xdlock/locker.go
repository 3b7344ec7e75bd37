package xdlock

import (
	"context"
	"time"
)

// LockHandle 一次成功的锁获取，只能释放或续期本次获取的锁
type LockHandle interface {
	// Unlock 返回 ErrNotLocked 表示锁已过期或被他人获取
	Unlock(ctx context.Context) error
	// Extend 按获取时的 Expiry 续期
	Extend(ctx context.Context) error
	Key() string
}

// Factory 锁工厂
type Factory interface {
	// TryLock 非阻塞获取。锁被占用返回 (nil, nil)。
	TryLock(ctx context.Context, key string, opts ...MutexOption) (LockHandle, error)
	// Close 之后不能再获取新锁，已持有的锁仍可释放
	Close() error
}

type mutexOptions struct {
	Expiry    time.Duration
	KeyPrefix string
}

func defaultMutexOptions() *mutexOptions {
	return &mutexOptions{Expiry: 8 * time.Second, KeyPrefix: "xrelay:lock:"}
}

// MutexOption 锁选项
type MutexOption func(*mutexOptions)

// WithExpiry 锁的 TTL
func WithExpiry(d time.Duration) MutexOption {
	return func(o *mutexOptions) {
		if d > 0 {
			o.Expiry = d
		}
	}
}

// WithKeyPrefix 键前缀，默认 "xrelay:lock:"
func WithKeyPrefix(prefix string) MutexOption {
	return func(o *mutexOptions) { o.KeyPrefix = prefix }
}
