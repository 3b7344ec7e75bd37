package xdlock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type localEntry struct {
	token     uint64
	expiresAt time.Time
}

type localFactory struct {
	mu     sync.Mutex
	locks  map[string]localEntry
	seq    atomic.Uint64
	now    func() time.Time
	closed atomic.Bool
}

// NewLocalFactory 进程内锁，语义与 Redis 实现一致（含过期）
func NewLocalFactory() Factory {
	return &localFactory{locks: make(map[string]localEntry), now: time.Now}
}

func (f *localFactory) TryLock(_ context.Context, key string, opts ...MutexOption) (LockHandle, error) {
	if f.closed.Load() {
		return nil, ErrFactoryClosed
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	o := defaultMutexOptions()
	for _, opt := range opts {
		opt(o)
	}
	full := o.KeyPrefix + key

	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	if e, ok := f.locks[full]; ok && now.Before(e.expiresAt) {
		return nil, nil
	}
	token := f.seq.Add(1)
	f.locks[full] = localEntry{token: token, expiresAt: now.Add(o.Expiry)}
	return &localHandle{f: f, key: full, token: token, expiry: o.Expiry}, nil
}

func (f *localFactory) Close() error {
	f.closed.Store(true)
	return nil
}

type localHandle struct {
	f      *localFactory
	key    string
	token  uint64
	expiry time.Duration
}

// owned 调用方持有 f.mu
func (h *localHandle) owned() bool {
	e, ok := h.f.locks[h.key]
	return ok && e.token == h.token && h.f.now().Before(e.expiresAt)
}

func (h *localHandle) Unlock(context.Context) error {
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	if !h.owned() {
		return ErrNotLocked
	}
	delete(h.f.locks, h.key)
	return nil
}

func (h *localHandle) Extend(context.Context) error {
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	if !h.owned() {
		return ErrNotLocked
	}
	h.f.locks[h.key] = localEntry{token: h.token, expiresAt: h.f.now().Add(h.expiry)}
	return nil
}

func (h *localHandle) Key() string { return h.key }
