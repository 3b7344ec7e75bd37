package xdispatch

import (
	"time"

	"github.com/omeyang/xrelay/pkg/business/xcost"
	"github.com/omeyang/xrelay/pkg/observability/xlog"
	"github.com/omeyang/xrelay/pkg/observability/xmetrics"
	"github.com/omeyang/xrelay/pkg/resilience/xbreaker"
	"github.com/omeyang/xrelay/pkg/storage/xcache"
)

const (
	DefaultCallTimeout  = 30 * time.Second
	DefaultChainTimeout = 60 * time.Second
)

// Option 配置 Dispatcher
type Option func(*Dispatcher)

// WithCache 启用缓存穿透读，nil 表示不使用缓存
func WithCache(c *xcache.Cache) Option {
	return func(d *Dispatcher) { d.cache = c }
}

// WithBreakerOptions 追加到每个提供方熔断器的选项
func WithBreakerOptions(opts ...xbreaker.Option) Option {
	return func(d *Dispatcher) { d.breakerOpts = append(d.breakerOpts, opts...) }
}

// WithCallTimeout 单个提供方调用上限
func WithCallTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.callTimeout = t
		}
	}
}

// WithChainTimeout 整条回退链路上限
func WithChainTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.chainTimeout = t
		}
	}
}

func WithPricing(p *xcost.Pricing) Option {
	return func(d *Dispatcher) { d.pricing = p }
}

func WithSink(s xcost.Sink) Option {
	return func(d *Dispatcher) { d.sink = xcost.OrNop(s) }
}

func WithLogger(l xlog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

func WithObserver(o xmetrics.Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// WithClock 注入时钟（延迟统计与事件时间）
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}
