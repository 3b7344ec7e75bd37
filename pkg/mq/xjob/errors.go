package xjob

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound       = errors.New("xjob: job not found")
	ErrJobNotFinished    = errors.New("xjob: job not finished")
	ErrAttemptsExhausted = errors.New("xjob: attempts exhausted")

	// ErrNoJob 当前没有可领取的任务，属于控制流信号
	ErrNoJob = errors.New("xjob: no job available")

	// ErrLeaseLost 租约已被回收或任务已不处于 active
	ErrLeaseLost = errors.New("xjob: lease lost")

	// ErrRateLimited 启动速率达到上限，属于控制流信号
	ErrRateLimited = errors.New("xjob: start rate cap reached")

	ErrNilStore        = errors.New("xjob: store is nil")
	ErrNilHandler      = errors.New("xjob: handler is nil")
	ErrEmptyType       = errors.New("xjob: job type must not be empty")
	ErrInvalidPriority = errors.New("xjob: priority out of range")
	ErrInvalidDelay    = errors.New("xjob: delay must not be negative")
	ErrInvalidCap      = errors.New("xjob: rate cap limit and window must be positive")
	ErrStoreClosed     = errors.New("xjob: store is closed")
)

// FailedError 任务终止失败
type FailedError struct {
	JobID    string
	Attempts int
	Message  string
	// Exhausted 因达到尝试上限而终止
	Exhausted bool
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("xjob: job %s failed after %d attempt(s): %s", e.JobID, e.Attempts, e.Message)
}

func (e *FailedError) Is(target error) bool {
	return e.Exhausted && target == ErrAttemptsExhausted
}

// Retryable 终止失败不会再被队列重试
func (e *FailedError) Retryable() bool { return false }
