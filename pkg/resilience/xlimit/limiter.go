package xlimit

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/omeyang/xrelay/pkg/context/xctx"
	"github.com/omeyang/xrelay/pkg/observability/xlog"
)

// AnonymousTenant 无租户调用方的违规计数归属
const AnonymousTenant = "anonymous"

// Option 配置 Limiter
type Option func(*Limiter)

// WithBackend 设置计数后端，默认 LocalBackend
func WithBackend(b Backend) Option {
	return func(l *Limiter) {
		if b != nil {
			l.backend = b
		}
	}
}

// WithFallback 用降级后端包装 WithBackend 设置的后端，降级时记录日志与指标
func WithFallback(strategy FallbackStrategy) Option {
	return func(l *Limiter) { l.fallback = strategy }
}

// WithTiers 设置分级配额，默认 DefaultTiers
func WithTiers(tiers ...Tier) Option {
	return func(l *Limiter) { l.initTiers = tiers }
}

// WithDefaultTier 调用未指定 Tier 时使用的分级，默认 standard
func WithDefaultTier(name string) Option {
	return func(l *Limiter) {
		if name != "" {
			l.defaultTier = name
		}
	}
}

// WithClock 注入时钟（测试使用）
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

func WithLogger(logger xlog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(l *Limiter) { l.meterProvider = mp }
}

// Limiter 分级限流器，并发安全
type Limiter struct {
	backend       Backend
	initTiers     []Tier
	tiers         atomic.Pointer[map[string]Tier]
	defaultTier   string
	now           func() time.Time
	logger        xlog.Logger
	meterProvider metric.MeterProvider
	metrics       *limiterMetrics
	fallback      FallbackStrategy

	violations sync.Map // tenant -> *atomic.Int64
}

// New 创建限流器
func New(opts ...Option) (*Limiter, error) {
	l := &Limiter{
		backend:     NewLocalBackend(),
		initTiers:   DefaultTiers(),
		defaultTier: TierStandard,
		now:         time.Now,
		logger:      xlog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if err := l.SetTiers(l.initTiers); err != nil {
		return nil, err
	}
	if _, ok := l.Tier(l.defaultTier); !ok {
		return nil, fmt.Errorf("%w: default %q", ErrUnknownTier, l.defaultTier)
	}
	m, err := newLimiterMetrics(l.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("xlimit: metrics: %w", err)
	}
	l.metrics = m

	if l.fallback != "" {
		fb, err := NewFallbackBackend(l.backend, l.fallback, func(err error) {
			ctx := context.Background()
			l.metrics.fallback.Add(ctx, 1)
			l.logger.Warn(ctx, "throttle backend unavailable, falling back",
				xlog.Component("xlimit"), xlog.Operation(string(l.fallback)), xlog.Err(err))
		})
		if err != nil {
			return nil, err
		}
		l.backend = fb
	}
	return l, nil
}

// SetTiers 原子替换分级配置（配置热更新）。已有计数保留，新配额在下次判定生效。
func (l *Limiter) SetTiers(tiers []Tier) error {
	m, err := indexTiers(tiers)
	if err != nil {
		return err
	}
	l.tiers.Store(&m)
	return nil
}

// Tier 查询分级
func (l *Limiter) Tier(name string) (Tier, bool) {
	t, ok := (*l.tiers.Load())[name]
	return t, ok
}

// Tiers 返回当前全部分级
func (l *Limiter) Tiers() map[string]Tier {
	return maps.Clone(*l.tiers.Load())
}

func (l *Limiter) resolve(id xctx.Identity, tierName string) (Tier, string, error) {
	if tierName == "" {
		tierName = l.defaultTier
	}
	tier, ok := l.Tier(tierName)
	if !ok {
		return Tier{}, "", fmt.Errorf("%w: %q", ErrUnknownTier, tierName)
	}
	idKey, err := id.Key()
	if err != nil {
		return Tier{}, "", err
	}
	return tier, tier.Name + ":" + idKey, nil
}

// Admit 判定并计数。放行返回 (result, nil)；拒绝返回 (result, *DeniedError)。
func (l *Limiter) Admit(ctx context.Context, id xctx.Identity, tierName string) (*Result, error) {
	tier, key, err := l.resolve(id, tierName)
	if err != nil {
		return nil, err
	}
	now := l.now()
	d, err := l.backend.Take(ctx, key, tier.Limit, tier.Window, now)
	if err != nil {
		return nil, fmt.Errorf("xlimit: %s backend: %w", l.backend.Type(), err)
	}

	res := &Result{
		Allowed:   d.Allowed,
		Tier:      tier.Name,
		Key:       key,
		Limit:     tier.Limit,
		Remaining: max(tier.Limit-d.Count, 0),
		ResetAt:   d.ResetAt,
	}
	tenant := tenantOf(id)
	l.metrics.record(ctx, tier.Name, tenant, d.Allowed)
	if d.Allowed {
		return res, nil
	}

	res.RetryAfter = retryAfter(d.ResetAt, now)
	l.countViolation(tenant)
	l.logger.Warn(ctx, "throttle denied",
		xlog.Component("xlimit"), xlog.Tenant(tenant),
		xlog.Operation(tier.Name), xlog.Duration(res.RetryAfter))
	return res, &DeniedError{
		Tier:       tier.Name,
		Key:        key,
		Limit:      tier.Limit,
		ResetAt:    d.ResetAt,
		RetryAfter: res.RetryAfter,
	}
}

// Peek 查询剩余配额，不计数
func (l *Limiter) Peek(ctx context.Context, id xctx.Identity, tierName string) (*Result, error) {
	tier, key, err := l.resolve(id, tierName)
	if err != nil {
		return nil, err
	}
	now := l.now()
	d, err := l.backend.Peek(ctx, key, now)
	if err != nil {
		return nil, err
	}
	resetAt := d.ResetAt
	if resetAt.IsZero() {
		resetAt = now.Add(tier.Window)
	}
	return &Result{
		Allowed:   d.Count < tier.Limit,
		Tier:      tier.Name,
		Key:       key,
		Limit:     tier.Limit,
		Remaining: max(tier.Limit-d.Count, 0),
		ResetAt:   resetAt,
	}, nil
}

// Reset 清除调用方在某一分级下的计数
func (l *Limiter) Reset(ctx context.Context, id xctx.Identity, tierName string) error {
	_, key, err := l.resolve(id, tierName)
	if err != nil {
		return err
	}
	return l.backend.Reset(ctx, key)
}

func tenantOf(id xctx.Identity) string {
	if t := id.Normalize().Tenant; t != "" {
		return t
	}
	return AnonymousTenant
}

func (l *Limiter) countViolation(tenant string) {
	v, _ := l.violations.LoadOrStore(tenant, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

// Violations 每个租户累计被拒绝的次数
func (l *Limiter) Violations() map[string]int64 {
	out := make(map[string]int64)
	l.violations.Range(func(k, v any) bool {
		out[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	return out
}

// Sweep 清理过期窗口
func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	return l.backend.Sweep(ctx, l.now())
}

// RunSweeper 按 interval 周期清理过期窗口，阻塞到 ctx 取消后返回 nil。
// 单次清理失败只记录日志。
func (l *Limiter) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("xlimit: sweep interval must be positive, got %v", interval)
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := l.Sweep(ctx)
			if err != nil {
				l.logger.Warn(ctx, "throttle sweep failed", xlog.Component("xlimit"), xlog.Err(err))
				continue
			}
			if n > 0 {
				l.logger.Debug(ctx, "throttle windows swept", xlog.Component("xlimit"), xlog.Count(int64(n)))
			}
		}
	}
}

// Backend 返回计数后端
func (l *Limiter) Backend() Backend { return l.backend }

// Close 关闭后端
func (l *Limiter) Close() error { return l.backend.Close() }
