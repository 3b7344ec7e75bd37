package xcron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/omeyang/xrelay/pkg/observability/xlog"
)

// ErrNilJob 任务函数为 nil
var ErrNilJob = errors.New("xcron: job cannot be nil")

// JobID 任务标识
type JobID = cron.EntryID

// Func 任务函数
type Func func(ctx context.Context) error

// Scheduler 调度器，并发安全
type Scheduler struct {
	cron   *cron.Cron
	opts   *schedulerOptions
	stats  *Stats
	logger xlog.Logger

	immediateWg     sync.WaitGroup
	immediateCtx    context.Context
	immediateCancel context.CancelFunc
}

// New 创建调度器。不带参数时不加锁、本地时区、分钟级精度。
func New(opts ...SchedulerOption) *Scheduler {
	o := defaultSchedulerOptions()
	for _, opt := range opts {
		opt(o)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:            cron.New(cron.WithLocation(o.location), cron.WithParser(o.parser)),
		opts:            o,
		stats:           newStats(),
		logger:          o.logger,
		immediateCtx:    ctx,
		immediateCancel: cancel,
	}
}

// AddFunc 注册任务
func (s *Scheduler) AddFunc(spec string, fn Func, opts ...JobOption) (JobID, error) {
	if fn == nil {
		return 0, ErrNilJob
	}
	jo := defaultJobOptions()
	for _, opt := range opts {
		opt(jo)
	}
	if jo.name == "" && s.opts.locker != nil {
		s.logger.Warn(context.Background(), "job has locker but no name, lock will be skipped",
			xlog.Component("xcron"), slog.String("spec", spec))
	}

	w := &jobWrapper{
		fn:      fn,
		opts:    jo,
		locker:  s.opts.locker,
		logger:  s.logger,
		stats:   s.stats,
		baseCtx: context.Background(),
	}
	id, err := s.cron.AddJob(spec, w)
	if err != nil {
		return 0, fmt.Errorf("xcron: failed to add job: %w", err)
	}

	if jo.immediate {
		s.immediateWg.Add(1)
		go func() {
			defer s.immediateWg.Done()
			cp := *w
			cp.baseCtx = s.immediateCtx
			cp.Run()
		}()
	}
	return id, nil
}

// Remove 移除任务
func (s *Scheduler) Remove(id JobID) { s.cron.Remove(id) }

// Start 启动调度，非阻塞
func (s *Scheduler) Start() { s.cron.Start() }

// Stop 停止调度并等待执行中的任务结束，包括 WithImmediate 触发的执行
func (s *Scheduler) Stop() {
	s.immediateCancel()
	<-s.cron.Stop().Done()
	s.immediateWg.Wait()
}

// Entries 已注册任务
func (s *Scheduler) Entries() []cron.Entry { return s.cron.Entries() }

// Stats 执行统计
func (s *Scheduler) Stats() *Stats { return s.stats }
