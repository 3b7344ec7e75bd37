package xrelay

import (
	"context"
	"time"

	"github.com/omeyang/xrelay/pkg/mq/xjob"
	"github.com/omeyang/xrelay/pkg/observability/xlog"
	"github.com/omeyang/xrelay/pkg/resilience/xbreaker"
	"github.com/omeyang/xrelay/pkg/resilience/xlimit"
	"github.com/omeyang/xrelay/pkg/storage/xcache"
)

// Metrics 运行时快照。未配置的组件对应字段为空。
type Metrics struct {
	Queue              *xjob.Stats            `json:"queue,omitempty"`
	Breakers           []xbreaker.Snapshot    `json:"breakers"`
	Cache              *xcache.Stats          `json:"cache,omitempty"`
	ThrottleViolations map[string]int64       `json:"throttle_violations,omitempty"`
	Tiers              map[string]xlimit.Tier `json:"tiers,omitempty"`
	Providers          []string               `json:"providers"`
	At                 time.Time              `json:"at"`
}

// Metrics 汇总队列、熔断器、缓存与限流统计
func (r *Relay) Metrics(ctx context.Context) (*Metrics, error) {
	m := &Metrics{
		Breakers:  r.dispatcher.Breakers(),
		Providers: r.dispatcher.Providers(),
		At:        time.Now(),
	}
	if r.queue != nil {
		st, err := r.queue.Stats(ctx)
		if err != nil {
			return nil, err
		}
		m.Queue = &st
	}
	if r.cache != nil {
		st, err := r.cache.Stats(ctx)
		if err != nil {
			return nil, err
		}
		m.Cache = &st
	}
	if r.limiter != nil {
		m.ThrottleViolations = r.limiter.Violations()
		m.Tiers = r.limiter.Tiers()
	}
	return m, nil
}

// Breakers 各提供方熔断器快照，顺序与回退链一致
func (r *Relay) Breakers() []xbreaker.Snapshot { return r.dispatcher.Breakers() }

// ResetBreakers 把所有熔断器恢复为关闭状态，返回重置前处于非关闭状态的数量
func (r *Relay) ResetBreakers() int { return r.dispatcher.ResetBreakers() }

// FlushCache 清空缓存，返回删除的条目数
func (r *Relay) FlushCache(ctx context.Context) (int, error) {
	if r.cache == nil {
		return 0, ErrNoCache
	}
	n, err := r.cache.Flush(ctx)
	if err != nil {
		return 0, err
	}
	r.logger.Info(ctx, "cache flushed", xlog.Component("xrelay"), xlog.Count(int64(n)))
	return n, nil
}

// CacheStats 缓存统计
func (r *Relay) CacheStats(ctx context.Context) (xcache.Stats, error) {
	if r.cache == nil {
		return xcache.Stats{}, ErrNoCache
	}
	return r.cache.Stats(ctx)
}

// QueueStats 队列统计
func (r *Relay) QueueStats(ctx context.Context) (xjob.Stats, error) {
	if r.queue == nil {
		return xjob.Stats{}, ErrAsyncDisabled
	}
	return r.queue.Stats(ctx)
}

// Throttle 限流层级与各租户违规次数
func (r *Relay) Throttle() (map[string]xlimit.Tier, map[string]int64) {
	if r.limiter == nil {
		return nil, nil
	}
	return r.limiter.Tiers(), r.limiter.Violations()
}
