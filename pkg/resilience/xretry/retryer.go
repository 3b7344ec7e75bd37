package xretry

import (
	"context"
	"time"

	retry "github.com/avast/retry-go/v5"
)

// Retryer 同步重试执行器，底层使用 retry-go
type Retryer struct {
	attempts uint
	backoff  BackoffPolicy
	onRetry  func(attempt int, err error)
}

// RetryerOption 配置 Retryer
type RetryerOption func(*Retryer)

// WithAttempts 最大尝试次数（含首次），小于 1 视为 1
func WithAttempts(n int) RetryerOption {
	return func(r *Retryer) { r.attempts = uint(max(n, 1)) }
}

func WithBackoff(p BackoffPolicy) RetryerOption {
	return func(r *Retryer) {
		if p != nil {
			r.backoff = p
		}
	}
}

// WithOnRetry 每次失败且将要重试时回调，attempt 为刚失败的次数
func WithOnRetry(fn func(attempt int, err error)) RetryerOption {
	return func(r *Retryer) { r.onRetry = fn }
}

// NewRetryer 默认 3 次、指数退避
func NewRetryer(opts ...RetryerOption) *Retryer {
	r := &Retryer{attempts: 3, backoff: NewExponentialBackoff()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Retryer) options(ctx context.Context) []retry.Option {
	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsRetryable),
		retry.DelayType(func(n uint, _ error, _ retry.DelayContext) time.Duration {
			return r.backoff.NextDelay(int(n) + 1)
		}),
	}
	if r.onRetry != nil {
		opts = append(opts, retry.OnRetry(func(n uint, err error) { r.onRetry(int(n)+1, err) }))
	}
	return opts
}

// Do 执行 fn 直到成功、遇到不可重试错误、次数耗尽或 ctx 取消
func (r *Retryer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx == nil {
		return ErrNilContext
	}
	if fn == nil {
		return ErrNilFunc
	}
	return retry.New(r.options(ctx)...).Do(func() error { return fn(ctx) })
}

// DoWithResult 带返回值的 Do
func DoWithResult[T any](ctx context.Context, r *Retryer, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if ctx == nil {
		return zero, ErrNilContext
	}
	if fn == nil {
		return zero, ErrNilFunc
	}
	return retry.NewWithData[T](r.options(ctx)...).Do(func() (T, error) { return fn(ctx) })
}
