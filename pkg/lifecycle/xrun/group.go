package xrun

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/omeyang/xrelay/pkg/observability/xlog"
)

// Option 配置 Group
type Option func(*Group)

// WithLogger 设置日志，默认 xlog.Default()
func WithLogger(l xlog.Logger) Option {
	return func(g *Group) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithSignals 覆盖监听的信号
func WithSignals(sigs ...os.Signal) Option {
	return func(g *Group) { g.signals = append([]os.Signal(nil), sigs...) }
}

// WithoutSignalHandler 关闭信号监听（测试或嵌入式场景）
func WithoutSignalHandler() Option {
	return func(g *Group) { g.noSignal = true }
}

// Service 具名服务
type Service struct {
	Name string
	Run  func(ctx context.Context) error
}

// Group 一组共享生命周期的服务
type Group struct {
	eg       *errgroup.Group
	ctx      context.Context
	causeCtx context.Context
	cancel   context.CancelCauseFunc
	logger   xlog.Logger
	signals  []os.Signal
	noSignal bool
}

// NewGroup 创建服务组，返回的 ctx 在任一服务失败或 Cancel 时取消
func NewGroup(ctx context.Context, opts ...Option) (*Group, context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	causeCtx, cancel := context.WithCancelCause(ctx)
	eg, egCtx := errgroup.WithContext(causeCtx)
	g := &Group{eg: eg, ctx: egCtx, causeCtx: causeCtx, cancel: cancel}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if g.logger == nil {
		g.logger = xlog.Default()
	}
	return g, egCtx
}

// Go 启动一个服务
func (g *Group) Go(svc Service) {
	g.eg.Go(func() error {
		if svc.Run == nil {
			return ErrNilFunc
		}
		g.logger.Debug(g.ctx, "service starting", xlog.Component(svc.Name))
		err := svc.Run(g.ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			g.logger.Warn(g.ctx, "service exited with error", xlog.Component(svc.Name), xlog.Err(err))
		} else {
			g.logger.Debug(g.ctx, "service stopped", xlog.Component(svc.Name))
		}
		return err
	})
}

// Cancel 以 cause 取消整个服务组
func (g *Group) Cancel(cause error) { g.cancel(cause) }

// Wait 等待全部服务退出。
//
// 服务因取消而返回的 context.Canceled 不视为错误；通过 Cancel 传入的
// 非 Canceled 原因（如 *SignalError）会被返回。
func (g *Group) Wait() error {
	defer g.cancel(nil)
	err := g.eg.Wait()
	cause := context.Cause(g.causeCtx)
	if cause != nil && !errors.Is(cause, context.Canceled) {
		if err == nil || errors.Is(err, context.Canceled) {
			return cause
		}
	}
	if errors.Is(err, context.Canceled) && g.causeCtx.Err() != nil {
		return nil
	}
	return err
}

// Run 启动服务并阻塞，直到全部退出；默认监听退出信号
func Run(ctx context.Context, opts []Option, services ...Service) error {
	g, _ := NewGroup(ctx, opts...)
	if !g.noSignal {
		sigs := g.signals
		if len(sigs) == 0 {
			sigs = []os.Signal{syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}
		}
		g.Go(Service{Name: "signal", Run: func(ctx context.Context) error {
			ch := make(chan os.Signal, 1)
			signal.Notify(ch, sigs...)
			defer signal.Stop(ch)
			select {
			case sig := <-ch:
				g.logger.Info(ctx, "received signal", xlog.Operation(sig.String()))
				g.cancel(&SignalError{Signal: sig})
				return nil
			case <-ctx.Done():
				return nil
			}
		}})
	}
	for _, svc := range services {
		g.Go(svc)
	}
	return g.Wait()
}
