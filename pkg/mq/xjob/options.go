package xjob

import (
	"context"
	"time"

	"github.com/omeyang/xrelay/pkg/distributed/xdlock"
	"github.com/omeyang/xrelay/pkg/observability/xlog"
	"github.com/omeyang/xrelay/pkg/observability/xmetrics"
	"github.com/omeyang/xrelay/pkg/resilience/xretry"
)

// 默认参数
const (
	DefaultConcurrency        = 4
	DefaultMaxAttempts        = 3
	DefaultLease              = 30 * time.Second
	DefaultPollInterval       = 500 * time.Millisecond
	DefaultCompletedRetention = time.Hour
	DefaultFailedRetention    = 7 * 24 * time.Hour
	DefaultReclaimSpec        = "@every 15s"
	DefaultPurgeSpec          = "@every 1m"
)

// DefaultBackoff 1s 起、倍数 2、上限 5 分钟、无抖动，未达上限前严格递增
func DefaultBackoff() xretry.BackoffPolicy {
	return xretry.NewExponentialBackoff(
		xretry.WithInitialDelay(time.Second),
		xretry.WithMultiplier(2),
		xretry.WithMaxDelay(5*time.Minute),
	)
}

// Option 队列选项
type Option func(*Queue)

// WithConcurrency 最大同时执行的任务数
func WithConcurrency(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.concurrency = n
		}
	}
}

// WithRateCap 启动速率上限，nil 表示不限
func WithRateCap(c RateCap) Option {
	return func(q *Queue) { q.rateCap = c }
}

// WithMaxAttempts 入队未指定时的默认尝试上限
func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// WithBackoff 重试退避策略，NextDelay 的参数为已尝试次数
func WithBackoff(p xretry.BackoffPolicy) Option {
	return func(q *Queue) {
		if p != nil {
			q.backoff = p
		}
	}
}

// WithLease 租约时长，心跳间隔为其 1/3
func WithLease(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.lease = d
		}
	}
}

// WithPollInterval 空闲 worker 的轮询间隔
func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.poll = d
		}
	}
}

// WithRetention 终态任务保留时长，成功短、失败长
func WithRetention(completed, failed time.Duration) Option {
	return func(q *Queue) {
		if completed > 0 {
			q.retainCompleted = completed
		}
		if failed > 0 {
			q.retainFailed = failed
		}
	}
}

// WithMaintenance 停滞回收与过期清理的 cron 表达式（支持秒级与 @every）
func WithMaintenance(reclaimSpec, purgeSpec string) Option {
	return func(q *Queue) {
		if reclaimSpec != "" {
			q.reclaimSpec = reclaimSpec
		}
		if purgeSpec != "" {
			q.purgeSpec = purgeSpec
		}
	}
}

// WithLocker 多实例部署时维护任务只在持锁实例上执行
func WithLocker(f xdlock.Factory) Option {
	return func(q *Queue) { q.locker = f }
}

// WithOwner 租约持有者标识，默认 "<hostname>-<uuid>"
func WithOwner(owner string) Option {
	return func(q *Queue) {
		if owner != "" {
			q.owner = owner
		}
	}
}

// WithIDGenerator 自定义任务 ID 生成
func WithIDGenerator(fn func(ctx context.Context) (string, error)) Option {
	return func(q *Queue) {
		if fn != nil {
			q.newID = fn
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

func WithLogger(l xlog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

func WithObserver(o xmetrics.Observer) Option {
	return func(q *Queue) { q.observer = o }
}
