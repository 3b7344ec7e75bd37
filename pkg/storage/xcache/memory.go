package xcache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultMaxEntries 内存存储默认容量
const DefaultMaxEntries = 10000

// MemoryStore 进程内 LRU 存储。容量满时淘汰最久未使用的条目。
type MemoryStore struct {
	mu    sync.Mutex
	lru   *simplelru.LRU[string, *Entry]
	bytes int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore maxEntries <= 0 时使用 DefaultMaxEntries
func NewMemoryStore(maxEntries int) (*MemoryStore, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	s := &MemoryStore{}
	lru, err := simplelru.NewLRU[string, *Entry](maxEntries, func(_ string, e *Entry) {
		s.bytes -= e.Size()
	})
	if err != nil {
		return nil, err
	}
	s.lru = lru
	return s, nil
}

func (s *MemoryStore) Touch(_ context.Context, key string, now time.Time) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lru.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	if !now.Before(e.ExpiresAt) {
		s.lru.Remove(key)
		return nil, ErrMiss
	}
	e.HitCount++
	e.ExpiresAt = now.Add(e.TTL)
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) Set(_ context.Context, e *Entry) error {
	cp := *e
	s.mu.Lock()
	defer s.mu.Unlock()
	// 覆盖时先移除旧条目，保证字节数统计准确
	s.lru.Remove(cp.Key)
	s.lru.Add(cp.Key, &cp)
	s.bytes += cp.Size()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Remove(key), nil
}

func (s *MemoryStore) Flush(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.lru.Len()
	s.lru.Purge()
	s.bytes = 0
	return n, nil
}

func (s *MemoryStore) Stats(context.Context) (StoreStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StoreStats{Entries: s.lru.Len(), Bytes: s.bytes}, nil
}

func (s *MemoryStore) Close() error { return nil }
