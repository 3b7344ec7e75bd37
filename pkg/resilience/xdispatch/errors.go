package xdispatch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/omeyang/xrelay/pkg/resilience/xbreaker"
	"github.com/omeyang/xrelay/pkg/resilience/xretry"
)

var (
	ErrNoProviders  = errors.New("xdispatch: at least one provider required")
	ErrNilProvider  = errors.New("xdispatch: nil provider")
	ErrChainTimeout = errors.New("xdispatch: chain timeout exceeded")

	// ErrAllProvidersUnavailable 所有提供方失败或熔断
	ErrAllProvidersUnavailable = errors.New("xdispatch: all providers unavailable")
)

// UnavailableError 整条链路失败，Attempts 按调用顺序记录每个提供方的结果
type UnavailableError struct {
	Attempts []Attempt
}

func (e *UnavailableError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s=%s", a.Provider, a.Outcome))
	}
	return fmt.Sprintf("%v [%s]", ErrAllProvidersUnavailable, strings.Join(parts, " "))
}

func (e *UnavailableError) Is(target error) bool { return target == ErrAllProvidersUnavailable }

// Unwrap 返回最后一次尝试的错误
func (e *UnavailableError) Unwrap() error {
	for i := len(e.Attempts) - 1; i >= 0; i-- {
		if e.Attempts[i].err != nil {
			return e.Attempts[i].err
		}
	}
	return nil
}

// Retryable 任一尝试可重试（含熔断拒绝）即可重试；全部是不可重试的上游错误时不重试
func (e *UnavailableError) Retryable() bool {
	for _, a := range e.Attempts {
		if a.err == nil || xbreaker.IsOpen(a.err) || xretry.IsRetryable(a.err) {
			return true
		}
	}
	return false
}
