package xjob

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// RateCap 任务启动速率上限，保护共享的提供方容量。与请求限流互相独立。
type RateCap interface {
	// Peek 查询是否还有名额，不占用。没有名额时返回建议等待时间。
	Peek(ctx context.Context, now time.Time) (ok bool, wait time.Duration, err error)
	// Take 占用一个名额
	Take(ctx context.Context, now time.Time) (ok bool, wait time.Duration, err error)
}

// SlidingWindowCap 进程内滚动窗口：任意 window 时长内最多启动 limit 个任务
type SlidingWindowCap struct {
	limit  int
	window time.Duration

	mu     sync.Mutex
	starts []time.Time // 环形缓冲，最多 limit 个
	head   int
}

var _ RateCap = (*SlidingWindowCap)(nil)

func NewSlidingWindowCap(limit int, window time.Duration) (*SlidingWindowCap, error) {
	if limit <= 0 || window <= 0 {
		return nil, ErrInvalidCap
	}
	return &SlidingWindowCap{limit: limit, window: window, starts: make([]time.Time, 0, limit)}, nil
}

func (c *SlidingWindowCap) check(now time.Time) (bool, time.Duration) {
	if len(c.starts) < c.limit {
		return true, 0
	}
	// 缓冲已满时 head 指向最早的一次启动
	expires := c.starts[c.head].Add(c.window)
	if !now.Before(expires) {
		return true, 0
	}
	return false, expires.Sub(now)
}

func (c *SlidingWindowCap) Peek(_ context.Context, now time.Time) (bool, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ok, wait := c.check(now)
	return ok, wait, nil
}

func (c *SlidingWindowCap) Take(_ context.Context, now time.Time) (bool, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ok, wait := c.check(now)
	if !ok {
		return false, wait, nil
	}
	if len(c.starts) < c.limit {
		c.starts = append(c.starts, now)
		return true, 0, nil
	}
	c.starts[c.head] = now
	c.head = (c.head + 1) % c.limit
	return true, 0, nil
}

// RedisRateCap 多实例共享的启动速率上限，基于 redis_rate（GCRA）。
// now 参数被忽略，以 Redis 服务端时间为准。
type RedisRateCap struct {
	limiter *redis_rate.Limiter
	key     string
	limit   redis_rate.Limit
}

var _ RateCap = (*RedisRateCap)(nil)

func NewRedisRateCap(rdb redis.UniversalClient, key string, limit int, window time.Duration) (*RedisRateCap, error) {
	if rdb == nil {
		return nil, ErrNilStore
	}
	if limit <= 0 || window <= 0 {
		return nil, ErrInvalidCap
	}
	if key == "" {
		key = DefaultRedisPrefix + "ratecap"
	}
	return &RedisRateCap{
		limiter: redis_rate.NewLimiter(rdb),
		key:     key,
		limit:   redis_rate.Limit{Rate: limit, Burst: limit, Period: window},
	}, nil
}

func (c *RedisRateCap) Peek(ctx context.Context, _ time.Time) (bool, time.Duration, error) {
	// AllowN(0) 只查询不消耗
	res, err := c.limiter.AllowN(ctx, c.key, c.limit, 0)
	if err != nil {
		return false, 0, err
	}
	if res.Remaining > 0 {
		return true, 0, nil
	}
	return false, max(res.ResetAfter/time.Duration(c.limit.Burst), time.Millisecond), nil
}

func (c *RedisRateCap) Take(ctx context.Context, _ time.Time) (bool, time.Duration, error) {
	res, err := c.limiter.AllowN(ctx, c.key, c.limit, 1)
	if err != nil {
		return false, 0, err
	}
	if res.Allowed > 0 {
		return true, 0, nil
	}
	return false, max(res.RetryAfter, time.Millisecond), nil
}
