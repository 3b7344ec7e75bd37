package xlimit

import (
	"context"
	"errors"
	"time"
)

// FallbackStrategy Redis 不可用时的降级策略
type FallbackStrategy string

const (
	// FallbackLocal 降级为进程内计数，配额按实例独立计算
	FallbackLocal FallbackStrategy = "local"
	// FallbackOpen 全部放行
	FallbackOpen FallbackStrategy = "open"
	// FallbackClose 全部拒绝（返回 ErrBackendUnavailable）
	FallbackClose FallbackStrategy = "close"
)

// FallbackBackend 主后端出现连接类错误时按策略降级
type FallbackBackend struct {
	primary    Backend
	local      *LocalBackend
	strategy   FallbackStrategy
	onFallback func(err error)
}

var _ Backend = (*FallbackBackend)(nil)

// NewFallbackBackend 创建降级后端。onFallback 可为 nil。
func NewFallbackBackend(primary Backend, strategy FallbackStrategy, onFallback func(err error)) (*FallbackBackend, error) {
	if primary == nil {
		return nil, ErrNilBackend
	}
	switch strategy {
	case FallbackLocal, FallbackOpen, FallbackClose:
	case "":
		strategy = FallbackLocal
	default:
		return nil, ErrInvalidFallbackMode
	}
	return &FallbackBackend{primary: primary, local: NewLocalBackend(), strategy: strategy, onFallback: onFallback}, nil
}

func (b *FallbackBackend) Take(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Decision, error) {
	d, err := b.primary.Take(ctx, key, limit, window, now)
	if err == nil || !IsRedisError(err) {
		return d, err
	}
	if b.onFallback != nil {
		b.onFallback(err)
	}
	switch b.strategy {
	case FallbackOpen:
		return Decision{Allowed: true, ResetAt: now.Add(window)}, nil
	case FallbackClose:
		return Decision{}, err
	default:
		return b.local.Take(ctx, key, limit, window, now)
	}
}

func (b *FallbackBackend) Peek(ctx context.Context, key string, now time.Time) (Decision, error) {
	d, err := b.primary.Peek(ctx, key, now)
	if err != nil && IsRedisError(err) {
		return b.local.Peek(ctx, key, now)
	}
	return d, err
}

func (b *FallbackBackend) Reset(ctx context.Context, key string) error {
	var errs []error
	if err := b.primary.Reset(ctx, key); err != nil && !IsRedisError(err) {
		errs = append(errs, err)
	}
	if err := b.local.Reset(ctx, key); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (b *FallbackBackend) Sweep(ctx context.Context, now time.Time) (int, error) {
	n, err := b.local.Sweep(ctx, now)
	m, perr := b.primary.Sweep(ctx, now)
	return n + m, errors.Join(err, perr)
}

func (b *FallbackBackend) Type() string { return b.primary.Type() + "+fallback" }

func (b *FallbackBackend) Close() error {
	return errors.Join(b.primary.Close(), b.local.Close())
}
