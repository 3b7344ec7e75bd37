package xcron

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/omeyang/xrelay/pkg/distributed/xdlock"
	"github.com/omeyang/xrelay/pkg/observability/xlog"
)

// 默认参数
const (
	DefaultLockTTL     = 30 * time.Second
	DefaultLockTimeout = 5 * time.Second
)

type schedulerOptions struct {
	locker   xdlock.Factory
	logger   xlog.Logger
	location *time.Location
	parser   cron.ScheduleParser
}

func defaultSchedulerOptions() *schedulerOptions {
	return &schedulerOptions{
		logger:   xlog.Default(),
		location: time.Local,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// SchedulerOption 调度器选项
type SchedulerOption func(*schedulerOptions)

// WithLocker 分布式锁工厂。未设置时任务在每个实例上都会执行。
func WithLocker(f xdlock.Factory) SchedulerOption {
	return func(o *schedulerOptions) { o.locker = f }
}

func WithLogger(l xlog.Logger) SchedulerOption {
	return func(o *schedulerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithLocation 调度时区
func WithLocation(loc *time.Location) SchedulerOption {
	return func(o *schedulerOptions) {
		if loc != nil {
			o.location = loc
		}
	}
}

// WithSeconds 启用秒级表达式（6 段）
func WithSeconds() SchedulerOption {
	return func(o *schedulerOptions) {
		o.parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	}
}

type jobOptions struct {
	name        string
	timeout     time.Duration
	lockTTL     time.Duration
	lockTimeout time.Duration
	immediate   bool
}

func defaultJobOptions() *jobOptions {
	return &jobOptions{
		lockTTL:     DefaultLockTTL,
		lockTimeout: DefaultLockTimeout,
	}
}

// JobOption 任务选项
type JobOption func(*jobOptions)

// WithName 任务名，同时作为锁键与统计维度。未命名的任务不加锁。
func WithName(name string) JobOption {
	return func(o *jobOptions) { o.name = name }
}

// WithTimeout 单次执行超时
func WithTimeout(d time.Duration) JobOption {
	return func(o *jobOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLockTTL 锁 TTL，续期间隔为其 1/3
func WithLockTTL(d time.Duration) JobOption {
	return func(o *jobOptions) {
		if d > 0 {
			o.lockTTL = d
		}
	}
}

// WithLockTimeout 获取锁的超时
func WithLockTimeout(d time.Duration) JobOption {
	return func(o *jobOptions) {
		if d > 0 {
			o.lockTimeout = d
		}
	}
}

// WithImmediate 注册后立即执行一次
func WithImmediate() JobOption {
	return func(o *jobOptions) { o.immediate = true }
}
