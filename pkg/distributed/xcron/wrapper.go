package xcron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/omeyang/xrelay/pkg/distributed/xdlock"
	"github.com/omeyang/xrelay/pkg/observability/xlog"
)

// jobWrapper 为任务附加锁、超时与统计，实现 cron.Job
type jobWrapper struct {
	fn      Func
	opts    *jobOptions
	locker  xdlock.Factory
	logger  xlog.Logger
	stats   *Stats
	baseCtx context.Context
}

// Run 实现 cron.Job
func (w *jobWrapper) Run() {
	start := time.Now()
	ctx, cancel := context.WithCancel(w.baseCtx)
	defer cancel()

	if w.needsLock() {
		handle, ok := w.acquire(ctx)
		if !ok {
			w.stats.recordSkip(w.opts.name)
			return
		}
		stop := w.keepAlive(ctx, cancel, handle)
		defer func() {
			stop()
			// 任务上下文可能已取消，释放使用独立上下文
			uctx, ucancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer ucancel()
			if err := handle.Unlock(uctx); err != nil {
				w.logger.Warn(ctx, "failed to release lock", w.attrs(xlog.Err(err))...)
			}
		}()
	}

	if w.opts.timeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, w.opts.timeout)
		defer tcancel()
	}

	err := w.fn(ctx)
	elapsed := time.Since(start)
	w.stats.recordExecution(w.opts.name, elapsed, err)
	if err != nil {
		w.logger.Error(ctx, "job failed", w.attrs(xlog.Err(err), xlog.Duration(elapsed))...)
		return
	}
	w.logger.Debug(ctx, "job completed", w.attrs(xlog.Duration(elapsed))...)
}

func (w *jobWrapper) needsLock() bool {
	return w.opts.name != "" && w.locker != nil
}

func (w *jobWrapper) acquire(ctx context.Context) (xdlock.LockHandle, bool) {
	lctx, cancel := context.WithTimeout(ctx, w.opts.lockTimeout)
	defer cancel()
	handle, err := w.locker.TryLock(lctx, "cron:"+w.opts.name, xdlock.WithExpiry(w.opts.lockTTL))
	if err != nil {
		w.logger.Warn(ctx, "failed to acquire lock", w.attrs(xlog.Err(err))...)
		return nil, false
	}
	if handle == nil {
		w.logger.Debug(ctx, "lock held elsewhere, skipping", w.attrs()...)
		return nil, false
	}
	return handle, true
}

// keepAlive 按 TTL/3 续期，续期失败取消任务。返回的函数停止续期并等待协程退出。
func (w *jobWrapper) keepAlive(ctx context.Context, taskCancel context.CancelFunc, handle xdlock.LockHandle) func() {
	interval := max(w.opts.lockTTL/3, time.Second)
	rctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-rctx.Done():
				return
			case <-ticker.C:
				if err := handle.Extend(rctx); err != nil {
					if rctx.Err() != nil {
						return
					}
					w.logger.Error(ctx, "lock renewal failed, canceling job", w.attrs(xlog.Err(err))...)
					taskCancel()
					return
				}
			}
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

func (w *jobWrapper) attrs(extra ...slog.Attr) []slog.Attr {
	return append([]slog.Attr{xlog.Component("xcron"), slog.String("job", w.opts.name)}, extra...)
}
