package xdispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/omeyang/xrelay/pkg/business/xcost"
	"github.com/omeyang/xrelay/pkg/context/xctx"
	"github.com/omeyang/xrelay/pkg/llm/xprovider"
	"github.com/omeyang/xrelay/pkg/observability/xlog"
	"github.com/omeyang/xrelay/pkg/observability/xmetrics"
	"github.com/omeyang/xrelay/pkg/resilience/xbreaker"
	"github.com/omeyang/xrelay/pkg/storage/xcache"
)

const componentName = "xdispatch"

type link struct {
	provider xprovider.Provider
	breaker  *xbreaker.Breaker
}

// Dispatcher 补全分发器，并发安全
type Dispatcher struct {
	chain        []link
	registry     *xbreaker.Registry
	breakerOpts  []xbreaker.Option
	cache        *xcache.Cache
	callTimeout  time.Duration
	chainTimeout time.Duration
	pricing      *xcost.Pricing
	sink         xcost.Sink
	logger       xlog.Logger
	observer     xmetrics.Observer
	now          func() time.Time

	flights singleflight.Group
}

// New providers 按顺序组成回退链路，第一个为主提供方。名称必须唯一。
func New(providers []xprovider.Provider, opts ...Option) (*Dispatcher, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	d := &Dispatcher{
		registry:     xbreaker.NewRegistry(),
		callTimeout:  DefaultCallTimeout,
		chainTimeout: DefaultChainTimeout,
		sink:         xcost.NopSink{},
		logger:       xlog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}

	base := []xbreaker.Option{
		xbreaker.WithLogger(d.logger),
		// 调用方取消不是提供方故障
		xbreaker.WithSuccessPolicy(xbreaker.SuccessFunc(func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		})),
	}
	for _, p := range providers {
		if p == nil {
			return nil, ErrNilProvider
		}
		b, err := d.registry.Register(p.Name(), append(base, d.breakerOpts...)...)
		if err != nil {
			return nil, err
		}
		d.chain = append(d.chain, link{provider: p, breaker: b})
	}
	return d, nil
}

// Dispatch 执行一次补全。调用方 ctx 取消时返回 ctx 错误。
func (d *Dispatcher) Dispatch(ctx context.Context, req *xprovider.Request) (res *Result, err error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ctx, span := xmetrics.Start(ctx, d.observer, xmetrics.SpanOptions{
		Component: componentName,
		Operation: "dispatch",
		Kind:      xmetrics.KindClient,
	})
	defer func() {
		r := xmetrics.Result{Err: err}
		if res != nil {
			r.Attrs = []xmetrics.Attr{xmetrics.String("origin", string(res.Origin))}
		}
		span.End(r)
	}()

	start := d.now()
	fp, err := xcache.Fingerprint(xcache.FingerprintInput{Prompt: req.Prompt, Model: req.Model, Params: req.Params})
	if err != nil {
		return nil, err
	}

	if res, ok := d.lookup(ctx, req, fp, start); ok {
		return res, nil
	}

	// 合并相同指纹的并发未命中。上游调用与调用方 ctx 解耦，
	// 调用方放弃等待时结果仍会写入缓存。
	leader := false
	ch := d.flights.DoChan(fp, func() (any, error) {
		leader = true
		flightCtx := context.WithoutCancel(ctx)
		return d.callChain(flightCtx, req, fp, start)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		out := r.Val.(*Result).clone()
		if !leader {
			out.Origin = OriginCoalesced
			out.Cost = 0
			out.Latency = d.now().Sub(start)
			d.emit(ctx, req, out, xcost.KindCoalesced, "")
		}
		return out, nil
	}
}

// lookup 缓存异常按未命中处理，只记录日志
func (d *Dispatcher) lookup(ctx context.Context, req *xprovider.Request, fp string, start time.Time) (*Result, bool) {
	if d.cache == nil {
		return nil, false
	}
	e, err := d.cache.Get(ctx, fp)
	if err != nil {
		if !errors.Is(err, xcache.ErrMiss) {
			d.logger.Warn(ctx, "cache lookup failed", xlog.Component(componentName), xlog.Err(err))
		}
		return nil, false
	}
	res := &Result{
		Content:          string(e.Value),
		Provider:         e.Meta.Provider,
		Model:            e.Meta.Model,
		Origin:           OriginCache,
		CacheHit:         true,
		PromptTokens:     e.Meta.PromptTokens,
		CompletionTokens: e.Meta.CompletionTokens,
		Latency:          d.now().Sub(start),
		Fingerprint:      fp,
	}
	d.emit(ctx, req, res, xcost.KindCacheHit, "")
	return res, true
}

func (d *Dispatcher) callChain(ctx context.Context, req *xprovider.Request, fp string, start time.Time) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, d.chainTimeout)
	defer cancel()

	attempts := make([]Attempt, 0, len(d.chain))
	for i, l := range d.chain {
		name := l.provider.Name()
		if ctx.Err() != nil {
			attempts = append(attempts, Attempt{Provider: name, Outcome: OutcomeSkipped, Error: ErrChainTimeout.Error(), err: ErrChainTimeout})
			continue
		}

		callStart := d.now()
		c, err := xbreaker.Execute(ctx, l.breaker, func(ctx context.Context) (*xprovider.Completion, error) {
			return d.callOnce(ctx, l.provider, req)
		})
		a := Attempt{Provider: name, Latency: d.now().Sub(callStart), err: err}
		if err != nil {
			a.Outcome = classify(err)
			a.Error = err.Error()
			attempts = append(attempts, a)
			d.logger.Warn(ctx, "provider attempt failed",
				xlog.Component(componentName), xlog.Provider(name),
				slog.String("outcome", string(a.Outcome)), xlog.Err(err))
			continue
		}
		a.Outcome = OutcomeSuccess
		attempts = append(attempts, a)

		origin := OriginPrimary
		kind := xcost.KindProviderSuccess
		if i > 0 {
			origin, kind = OriginFallback, xcost.KindFallbackSuccess
		}
		res := &Result{
			Content:          c.Content,
			Provider:         name,
			Model:            c.Model,
			Origin:           origin,
			PromptTokens:     c.PromptTokens,
			CompletionTokens: c.CompletionTokens,
			Cost:             d.pricing.Cost(name, c.Model, c.PromptTokens, c.CompletionTokens),
			Latency:          d.now().Sub(start),
			Fingerprint:      fp,
			Attempts:         attempts,
		}
		d.store(ctx, res)
		d.emit(ctx, req, res, kind, "")
		return res, nil
	}

	err := &UnavailableError{Attempts: attempts}
	d.emit(ctx, req, &Result{Fingerprint: fp, Latency: d.now().Sub(start)}, xcost.KindFailure, "all_providers_unavailable")
	d.logger.Error(ctx, "all providers unavailable", xlog.Component(componentName), xlog.Err(err))
	return nil, err
}

// callOnce 单次调用。提供方忽略 ctx 时也在超时后返回，遗留 goroutine 在提供方返回后退出。
func (d *Dispatcher) callOnce(ctx context.Context, p xprovider.Provider, req *xprovider.Request) (*xprovider.Completion, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	type reply struct {
		c   *xprovider.Completion
		err error
	}
	done := make(chan reply, 1)
	go func() {
		c, err := p.Complete(callCtx, req)
		done <- reply{c, err}
	}()

	select {
	case r := <-done:
		if r.err == nil && r.c == nil {
			return nil, &xprovider.Error{Provider: p.Name(), Err: xprovider.ErrEmptyReply}
		}
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			return nil, &xprovider.TimeoutError{Provider: p.Name(), Timeout: d.callTimeout}
		}
		return r.c, r.err
	case <-callCtx.Done():
		return nil, &xprovider.TimeoutError{Provider: p.Name(), Timeout: d.callTimeout}
	}
}

func classify(err error) Outcome {
	switch {
	case xbreaker.IsOpen(err):
		return OutcomeCircuitOpen
	case xprovider.IsTimeout(err):
		return OutcomeTimeout
	default:
		return OutcomeError
	}
}

func (d *Dispatcher) store(ctx context.Context, res *Result) {
	if d.cache == nil || res.Content == "" {
		return
	}
	err := d.cache.Set(ctx, res.Fingerprint, []byte(res.Content), xcache.Meta{
		Provider:         res.Provider,
		Model:            res.Model,
		PromptTokens:     res.PromptTokens,
		CompletionTokens: res.CompletionTokens,
		Cost:             res.Cost,
	})
	if err != nil {
		d.logger.Warn(ctx, "cache store failed", xlog.Component(componentName), xlog.Err(err))
	}
}

func (d *Dispatcher) emit(ctx context.Context, req *xprovider.Request, res *Result, kind xcost.Kind, code string) {
	d.sink.Emit(ctx, xcost.Event{
		Kind:             kind,
		Tenant:           req.Tenant,
		User:             req.User,
		RequestID:        xctx.RequestID(ctx),
		JobID:            xctx.JobID(ctx),
		Provider:         res.Provider,
		Model:            res.Model,
		Fingerprint:      res.Fingerprint,
		PromptTokens:     res.PromptTokens,
		CompletionTokens: res.CompletionTokens,
		Cost:             res.Cost,
		CacheHit:         res.CacheHit,
		Latency:          res.Latency,
		Code:             code,
		At:               d.now(),
	})
}

// Providers 链路中的提供方名称，按调用顺序
func (d *Dispatcher) Providers() []string {
	out := make([]string, len(d.chain))
	for i, l := range d.chain {
		out[i] = l.provider.Name()
	}
	return out
}

// Breakers 各提供方熔断器快照
func (d *Dispatcher) Breakers() []xbreaker.Snapshot { return d.registry.Snapshots() }

// ResetBreakers 全部熔断器回到 Closed
func (d *Dispatcher) ResetBreakers() int {
	n := d.registry.ResetAll()
	d.logger.Info(context.Background(), "breakers reset", xlog.Component(componentName), xlog.Count(int64(n)))
	return n
}

func (d *Dispatcher) Registry() *xbreaker.Registry { return d.registry }

// Cache 返回配置的缓存，可能为 nil
func (d *Dispatcher) Cache() *xcache.Cache { return d.cache }
