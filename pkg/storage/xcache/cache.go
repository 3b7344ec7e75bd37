package xcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/omeyang/xrelay/pkg/observability/xlog"
)

// DefaultTTL 默认滑动过期时间
const DefaultTTL = time.Hour

// Stats 缓存统计。命中、未命中与节省成本为本进程自启动以来的累计值。
type Stats struct {
	Entries   int     `json:"entries"`
	Bytes     int64   `json:"bytes"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
	CostSaved float64 `json:"cost_saved"`
}

// Option 配置 Cache
type Option func(*Cache)

// WithTTL 设置滑动过期时间
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithClock 注入时钟（测试使用）
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLogger(l xlog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// Cache 补全结果缓存，并发安全
type Cache struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger xlog.Logger

	hits   atomic.Int64
	misses atomic.Int64

	savedMu sync.Mutex
	saved   float64
}

// New 创建缓存
func New(store Store, opts ...Option) (*Cache, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	c := &Cache{store: store, ttl: DefaultTTL, now: time.Now, logger: xlog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	if c.ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	return c, nil
}

// TTL 返回滑动过期时间
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get 命中时返回条目（已续期），否则返回 ErrMiss
func (c *Cache) Get(ctx context.Context, key string) (*Entry, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	e, err := c.store.Touch(ctx, key, c.now())
	if errors.Is(err, ErrMiss) {
		c.misses.Add(1)
		return nil, ErrMiss
	}
	if err != nil {
		c.misses.Add(1)
		return nil, err
	}
	c.hits.Add(1)
	if e.Meta.Cost > 0 {
		c.savedMu.Lock()
		c.saved += e.Meta.Cost
		c.savedMu.Unlock()
	}
	return e, nil
}

// Set 写入成功的补全结果，覆盖同键旧值并重置命中计数
func (c *Cache) Set(ctx context.Context, key string, value []byte, meta Meta) error {
	if key == "" {
		return ErrEmptyKey
	}
	if len(value) == 0 {
		return ErrEmptyValue
	}
	now := c.now()
	return c.store.Set(ctx, &Entry{
		Key:       key,
		Value:     value,
		Meta:      meta,
		TTL:       c.ttl,
		CachedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	})
}

// Invalidate 删除单个条目
func (c *Cache) Invalidate(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	return c.store.Delete(ctx, key)
}

// Flush 清空缓存，累计统计保留
func (c *Cache) Flush(ctx context.Context) (int, error) {
	n, err := c.store.Flush(ctx)
	if err == nil {
		c.logger.Info(ctx, "cache flushed", xlog.Component("xcache"), xlog.Count(int64(n)))
	}
	return n, err
}

// Stats 返回统计
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	st, err := c.store.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	hits, misses := c.hits.Load(), c.misses.Load()
	out := Stats{Entries: st.Entries, Bytes: st.Bytes, Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		out.HitRate = float64(hits) / float64(total)
	}
	c.savedMu.Lock()
	out.CostSaved = c.saved
	c.savedMu.Unlock()
	return out, nil
}

// Close 关闭存储
func (c *Cache) Close() error { return c.store.Close() }
