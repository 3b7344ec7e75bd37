package xjob

import (
	"context"
	"time"
)

// Store 任务状态的规范存储。所有状态转换在存储内原子完成。
//
// 时间一律由调用方传入，存储自身不读时钟。
type Store interface {
	// Add 写入新任务，分配 Seq。job.Status 为 waiting 或 delayed。
	// 同一租户下 IdempotencyKey 已存在时返回已有任务且 created 为 false，
	// 不同租户的相同键互不影响。
	Add(ctx context.Context, job *Job) (stored *Job, created bool, err error)

	// Get 不存在返回 ErrJobNotFound
	Get(ctx context.Context, id string) (*Job, error)

	// Claim 将到期的 delayed 任务转入 waiting，再领取 (Priority, Seq) 最小的 waiting 任务：
	// 状态置为 active，AttemptsMade 加一，租约持有者为 owner，租约到 now+lease。
	// 没有可领取的任务返回 ErrNoJob。
	Claim(ctx context.Context, owner string, now time.Time, lease time.Duration) (*Job, error)

	// Heartbeat 延长租约，返回任务是否被请求取消。租约不属于 owner 时返回 ErrLeaseLost。
	Heartbeat(ctx context.Context, id, owner string, until time.Time) (cancelRequested bool, err error)

	// Complete 标记成功。租约不属于 owner 时返回 ErrLeaseLost。
	Complete(ctx context.Context, id, owner string, result []byte, now time.Time) error

	// Fail 记录失败：RetryAt 非 nil 时转入 delayed，否则终止为 failed。
	Fail(ctx context.Context, id, owner string, p FailParams, now time.Time) error

	// Cancel waiting/delayed 任务直接删除；active 任务设置取消标记；终态任务不可取消
	Cancel(ctx context.Context, id string, now time.Time) (CancelResult, error)

	// ReclaimStalled 回收租约早于 now 过期的 active 任务：
	// 未达尝试上限的回到 waiting，已达上限的终止为 failed。
	ReclaimStalled(ctx context.Context, now time.Time) (ReclaimResult, error)

	// Purge 删除早于截止时间结束的终态任务，返回删除数量
	Purge(ctx context.Context, completedBefore, failedBefore time.Time) (int, error)

	Counts(ctx context.Context) (Counts, error)

	Close() error
}
