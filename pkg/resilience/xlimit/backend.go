package xlimit

import (
	"context"
	"time"
)

// Decision 一次计数的结果
type Decision struct {
	Allowed bool
	// Count 本窗口已放行的次数（放行时含本次）
	Count   int
	ResetAt time.Time
}

// Backend 计数状态存储。
//
// Take 必须原子地完成"窗口过期则重置、未超限则递增"，
// 被拒绝时不修改计数。
type Backend interface {
	Take(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Decision, error)
	// Peek 查询当前计数，不修改状态。不存在或已过期时 Count 为 0。
	Peek(ctx context.Context, key string, now time.Time) (Decision, error)
	Reset(ctx context.Context, key string) error
	// Sweep 清理已过期窗口，返回清理数量。依赖自动过期的后端可返回 0。
	Sweep(ctx context.Context, now time.Time) (int, error)
	Type() string
	Close() error
}
