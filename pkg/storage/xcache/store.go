package xcache

import (
	"context"
	"time"
)

// Meta 产生该结果的补全信息
type Meta struct {
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	Cost             float64 `json:"cost"`
}

// Entry 缓存条目
type Entry struct {
	Key       string        `json:"key"`
	Value     []byte        `json:"value"`
	Meta      Meta          `json:"meta"`
	TTL       time.Duration `json:"ttl"`
	CachedAt  time.Time     `json:"cached_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	HitCount  int64         `json:"hit_count"`
}

// Size 条目值的字节数
func (e *Entry) Size() int64 { return int64(len(e.Value)) }

// StoreStats 存储层统计
type StoreStats struct {
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
}

// Store 缓存状态存储
type Store interface {
	// Touch 原子地命中：HitCount+1 且 ExpiresAt = now + TTL。
	// 不存在或已过期返回 ErrMiss，过期条目同时被删除。
	Touch(ctx context.Context, key string, now time.Time) (*Entry, error)
	// Set 写入或覆盖条目，e.ExpiresAt 由调用方设置
	Set(ctx context.Context, e *Entry) error
	Delete(ctx context.Context, key string) (bool, error)
	// Flush 删除全部条目并返回删除数量
	Flush(ctx context.Context) (int, error)
	Stats(ctx context.Context) (StoreStats, error)
	Close() error
}
