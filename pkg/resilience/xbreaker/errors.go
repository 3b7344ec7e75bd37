package xbreaker

import (
	"errors"
	"fmt"

	"github.com/sony/gobreaker/v2"
)

var (
	// ErrOpen 熔断器打开，调用未发往下游
	ErrOpen = gobreaker.ErrOpenState

	// ErrTooManyRequests 半开状态下探测名额已被占用
	ErrTooManyRequests = gobreaker.ErrTooManyRequests

	ErrNilFunc      = errors.New("xbreaker: function cannot be nil")
	ErrEmptyName    = errors.New("xbreaker: empty breaker name")
	ErrDuplicate    = errors.New("xbreaker: breaker already registered")
	ErrInvalidRatio = errors.New("xbreaker: ratio must be in (0, 1]")
	ErrInvalidSize  = errors.New("xbreaker: window size must be positive")
)

// BreakerError 熔断拒绝错误。
// Retryable 返回 false：熔断拒绝不应在同一调用内重试。
type BreakerError struct {
	Err   error // ErrOpen 或 ErrTooManyRequests
	Name  string
	State State
}

func (e *BreakerError) Error() string {
	return fmt.Sprintf("breaker %s: %v", e.Name, e.Err)
}

func (e *BreakerError) Unwrap() error { return e.Err }

func (e *BreakerError) Retryable() bool { return false }

// wrapBreakerError 只包装 gobreaker 直接返回的哨兵错误。
// 状态从错误推导，不在 Execute 返回后再查询 State，避免读到之后的状态。
func wrapBreakerError(err error, name string) error {
	switch {
	case err == nil:
		return nil
	case err == gobreaker.ErrOpenState: //nolint:errorlint // 哨兵比较
		return &BreakerError{Err: err, Name: name, State: StateOpen}
	case err == gobreaker.ErrTooManyRequests: //nolint:errorlint // 哨兵比较
		return &BreakerError{Err: err, Name: name, State: StateHalfOpen}
	default:
		return err
	}
}

// IsOpen 判断调用是否被熔断器拒绝（打开或半开名额已满）
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
