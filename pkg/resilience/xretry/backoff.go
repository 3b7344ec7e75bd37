package xretry

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffPolicy 计算第 attempt 次失败（从 1 开始）之后的等待时间
type BackoffPolicy interface {
	NextDelay(attempt int) time.Duration
}

var (
	_ BackoffPolicy = (*FixedBackoff)(nil)
	_ BackoffPolicy = (*ExponentialBackoff)(nil)
	_ BackoffPolicy = (*LinearBackoff)(nil)
	_ BackoffPolicy = NoBackoff{}
)

// FixedBackoff 固定间隔
type FixedBackoff struct{ delay time.Duration }

func NewFixedBackoff(delay time.Duration) *FixedBackoff {
	return &FixedBackoff{delay: max(delay, 0)}
}

func (b *FixedBackoff) NextDelay(int) time.Duration { return b.delay }

// NoBackoff 立即重试
type NoBackoff struct{}

func (NoBackoff) NextDelay(int) time.Duration { return 0 }

// ExponentialBackoff delay = initial * multiplier^(attempt-1)，上限 max。
//
// jitter 为 0 时延迟在达到上限前严格递增；jitter 为 j 时，
// 只要 multiplier*(1-j) > 1+j 仍保持严格递增（见 StrictlyIncreasing）。
type ExponentialBackoff struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64
}

// ExponentialOption 配置指数退避
type ExponentialOption func(*ExponentialBackoff)

func WithInitialDelay(d time.Duration) ExponentialOption {
	return func(b *ExponentialBackoff) {
		if d > 0 {
			b.initial = d
		}
	}
}

func WithMaxDelay(d time.Duration) ExponentialOption {
	return func(b *ExponentialBackoff) {
		if d > 0 {
			b.max = d
		}
	}
}

// WithMultiplier 倍数，小于等于 1 的值被忽略
func WithMultiplier(m float64) ExponentialOption {
	return func(b *ExponentialBackoff) {
		if m > 1 {
			b.multiplier = m
		}
	}
}

// WithJitter 抖动比例，截断到 [0, 1]
func WithJitter(j float64) ExponentialOption {
	return func(b *ExponentialBackoff) {
		b.jitter = min(max(j, 0), 1)
	}
}

// NewExponentialBackoff 默认 100ms 起、倍数 2、上限 30s、无抖动
func NewExponentialBackoff(opts ...ExponentialOption) *ExponentialBackoff {
	b := &ExponentialBackoff{
		initial:    100 * time.Millisecond,
		max:        30 * time.Second,
		multiplier: 2,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.max < b.initial {
		b.max = b.initial
	}
	return b
}

func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	attempt = max(attempt, 1)
	delay := float64(b.initial) * math.Pow(b.multiplier, float64(attempt-1))
	if b.jitter > 0 {
		delay *= 1 + (rand.Float64()*2-1)*b.jitter //nolint:gosec // 抖动不需要密码学随机
	}
	if math.IsNaN(delay) || math.IsInf(delay, 0) || delay >= float64(b.max) {
		return b.max
	}
	return time.Duration(max(delay, 0))
}

// StrictlyIncreasing 报告在未达上限前延迟是否保证严格递增
func (b *ExponentialBackoff) StrictlyIncreasing() bool {
	return b.multiplier*(1-b.jitter) > 1+b.jitter
}

// Max 返回上限
func (b *ExponentialBackoff) Max() time.Duration { return b.max }

// LinearBackoff delay = initial + increment*(attempt-1)，上限 max
type LinearBackoff struct {
	initial   time.Duration
	increment time.Duration
	max       time.Duration
}

func NewLinearBackoff(initial, increment, maxDelay time.Duration) *LinearBackoff {
	initial, increment = max(initial, 0), max(increment, 0)
	return &LinearBackoff{initial: initial, increment: increment, max: max(maxDelay, initial)}
}

func (b *LinearBackoff) NextDelay(attempt int) time.Duration {
	attempt = max(attempt, 1)
	if b.increment > 0 && time.Duration(attempt-1) > (b.max-b.initial)/b.increment {
		return b.max
	}
	return min(b.initial+b.increment*time.Duration(attempt-1), b.max)
}
