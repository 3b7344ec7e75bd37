package xbreaker

import (
	"fmt"
	"sync"
)

// Registry 按名称管理熔断器，保持注册顺序
type Registry struct {
	mu       sync.RWMutex
	order    []string
	breakers map[string]*Breaker
}

func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

// Register 创建并注册熔断器，重名返回 ErrDuplicate
func (r *Registry) Register(name string, opts ...Option) (*Breaker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.breakers[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	b, err := New(name, opts...)
	if err != nil {
		return nil, err
	}
	r.breakers[name] = b
	r.order = append(r.order, name)
	return b, nil
}

func (r *Registry) Get(name string) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[name]
	return b, ok
}

// List 按注册顺序返回
func (r *Registry) List() []*Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Breaker, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.breakers[name])
	}
	return out
}

// ResetAll 全部回到 Closed，返回被重置的数量
func (r *Registry) ResetAll() int {
	list := r.List()
	for _, b := range list {
		b.Reset()
	}
	return len(list)
}

func (r *Registry) Snapshots() []Snapshot {
	list := r.List()
	out := make([]Snapshot, 0, len(list))
	for _, b := range list {
		out = append(out, b.Snapshot())
	}
	return out
}
