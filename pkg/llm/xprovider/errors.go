package xprovider

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrNilRequest  = errors.New("xprovider: nil request")
	ErrEmptyPrompt = errors.New("xprovider: empty prompt")
	ErrEmptyReply  = errors.New("xprovider: empty completion")
	ErrNoAPIKey    = errors.New("xprovider: missing api key")

	// ErrTimeout 单次调用超时
	ErrTimeout = errors.New("xprovider: call timeout")
)

// Error 上游返回的错误。StatusCode 为 0 表示传输层错误。
type Error struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable 408、429、5xx 与传输层错误可重试，其余 4xx 不可重试
func (e *Error) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return e.StatusCode >= 500
	}
}

// TimeoutError 调用超过单次上限
type TimeoutError struct {
	Provider string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("provider %s: call exceeded %s", e.Provider, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

func (e *TimeoutError) Retryable() bool { return true }

// IsTimeout 判断是否为单次调用超时
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }
