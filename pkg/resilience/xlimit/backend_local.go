package xlimit

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 64

type fixedWindow struct {
	count   int
	resetAt time.Time
}

type localShard struct {
	mu      sync.Mutex
	windows map[string]*fixedWindow
}

// LocalBackend 进程内固定窗口计数
type LocalBackend struct {
	shards [shardCount]localShard
}

var _ Backend = (*LocalBackend)(nil)

// NewLocalBackend 创建进程内后端
func NewLocalBackend() *LocalBackend {
	b := &LocalBackend{}
	for i := range b.shards {
		b.shards[i].windows = make(map[string]*fixedWindow)
	}
	return b
}

func (b *LocalBackend) shard(key string) *localShard {
	return &b.shards[xxhash.Sum64String(key)%shardCount]
}

func (b *LocalBackend) Take(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Decision, error) {
	s := b.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.windows[key]
	if w == nil || !now.Before(w.resetAt) {
		w = &fixedWindow{resetAt: now.Add(window)}
		s.windows[key] = w
	}
	if w.count >= limit {
		return Decision{Count: w.count, ResetAt: w.resetAt}, nil
	}
	w.count++
	return Decision{Allowed: true, Count: w.count, ResetAt: w.resetAt}, nil
}

func (b *LocalBackend) Peek(_ context.Context, key string, now time.Time) (Decision, error) {
	s := b.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.windows[key]
	if w == nil || !now.Before(w.resetAt) {
		return Decision{}, nil
	}
	return Decision{Count: w.count, ResetAt: w.resetAt}, nil
}

func (b *LocalBackend) Reset(_ context.Context, key string) error {
	s := b.shard(key)
	s.mu.Lock()
	delete(s.windows, key)
	s.mu.Unlock()
	return nil
}

func (b *LocalBackend) Sweep(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	for i := range b.shards {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		s := &b.shards[i]
		s.mu.Lock()
		for k, w := range s.windows {
			if !now.Before(w.resetAt) {
				delete(s.windows, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed, nil
}

// Len 当前跟踪的窗口数
func (b *LocalBackend) Len() int {
	n := 0
	for i := range b.shards {
		s := &b.shards[i]
		s.mu.Lock()
		n += len(s.windows)
		s.mu.Unlock()
	}
	return n
}

func (b *LocalBackend) Type() string { return "local" }

func (b *LocalBackend) Close() error { return nil }
