package xjob

import (
	"slices"
	"strconv"
	"time"
)

// Status 任务状态
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusDelayed   Status = "delayed"
)

// Terminal 是否为终态
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// 优先级范围，数值越小越先执行。EnqueueOptions.Priority 为 0 时取 DefaultPriority。
const (
	MinPriority     = 1
	MaxPriority     = 1000
	DefaultPriority = 100
)

// Job 任务记录
type Job struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	Tenant          string    `json:"tenant,omitempty"`
	Payload         []byte    `json:"payload,omitempty"`
	Priority        int       `json:"priority"`
	Seq             int64     `json:"seq"`
	Status          Status    `json:"status"`
	AttemptsMade    int       `json:"attempts_made"`
	MaxAttempts     int       `json:"max_attempts"`
	IdempotencyKey  string    `json:"idempotency_key,omitempty"`
	Result          []byte    `json:"result,omitempty"`
	Error           string    `json:"error,omitempty"`
	Exhausted       bool      `json:"exhausted,omitempty"`
	CancelRequested bool      `json:"cancel_requested,omitempty"`
	LeaseOwner      string    `json:"lease_owner,omitempty"`
	LeaseUntil      time.Time `json:"lease_until,omitzero"`
	RunAt           time.Time `json:"run_at,omitzero"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	FinishedAt      time.Time `json:"finished_at,omitzero"`
}

// idemScope 幂等键按租户隔离；租户名带长度前缀，拼接结果不会歧义。
// 未设置幂等键时返回空串。
func (j *Job) idemScope() string {
	if j.IdempotencyKey == "" {
		return ""
	}
	return strconv.Itoa(len(j.Tenant)) + ":" + j.Tenant + ":" + j.IdempotencyKey
}

// Clone 深拷贝
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Payload = slices.Clone(j.Payload)
	c.Result = slices.Clone(j.Result)
	return &c
}

// Counts 各状态任务数
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Depth 未完成任务数：waiting + active + delayed
func (c Counts) Depth() int64 { return c.Waiting + c.Active + c.Delayed }

// CancelResult 取消结果
type CancelResult string

const (
	// CancelRemoved 任务尚未开始，已删除
	CancelRemoved CancelResult = "removed"
	// CancelSignalled 任务运行中，已设置取消标记
	CancelSignalled CancelResult = "signalled"
	// CancelNotCancellable 任务已结束
	CancelNotCancellable CancelResult = "not_cancellable"
)

// FailParams 一次失败的落库参数。RetryAt 为 nil 表示终止失败。
type FailParams struct {
	Message   string
	RetryAt   *time.Time
	Exhausted bool
}

// ReclaimResult 停滞回收结果
type ReclaimResult struct {
	Requeued int `json:"requeued"`
	Failed   int `json:"failed"`
}

// stalledMessage 租约过期且已达尝试上限时记录的错误
const stalledMessage = "stalled: lease expired with attempts exhausted"
