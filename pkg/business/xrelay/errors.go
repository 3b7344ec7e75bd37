package xrelay

import (
	"context"
	"errors"
	"time"

	"github.com/omeyang/xrelay/pkg/llm/xprovider"
	"github.com/omeyang/xrelay/pkg/mq/xjob"
	"github.com/omeyang/xrelay/pkg/resilience/xbreaker"
	"github.com/omeyang/xrelay/pkg/resilience/xdispatch"
	"github.com/omeyang/xrelay/pkg/resilience/xlimit"
	"github.com/omeyang/xrelay/pkg/storage/xcache"
)

var (
	ErrNilDispatcher = errors.New("xrelay: nil dispatcher")
	ErrAsyncDisabled = errors.New("xrelay: async path not configured")
	ErrNoCache       = errors.New("xrelay: cache not configured")
	ErrInvalidCall   = errors.New("xrelay: invalid call")
	ErrBadPayload    = errors.New("xrelay: malformed job payload")
)

// 机器可读错误码
const (
	CodeDenied                  = "denied"
	CodeCacheMiss               = "cache_miss"
	CodeProviderTimeout         = "provider_timeout"
	CodeProviderError           = "provider_error"
	CodeCircuitOpen             = "circuit_open"
	CodeAllProvidersUnavailable = "all_providers_unavailable"
	CodeJobNotFound             = "job_not_found"
	CodeJobAttemptsExhausted    = "job_attempts_exhausted"
	CodeJobNotFinished          = "job_not_finished"
	CodeJobFailed               = "job_failed"
	CodeInvalidRequest          = "invalid_request"
	CodeCancelled               = "cancelled"
	CodeInternal                = "internal"
)

// Code 把错误映射为错误码，nil 返回空串。
//
// 顺序有意义：UnavailableError 会 Unwrap 到最后一次尝试的错误，
// 必须先于提供方错误判断。
func Code(err error) string {
	var pe *xprovider.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, xlimit.ErrDenied):
		return CodeDenied
	case errors.Is(err, xdispatch.ErrAllProvidersUnavailable):
		return CodeAllProvidersUnavailable
	case errors.Is(err, xcache.ErrMiss):
		return CodeCacheMiss
	case xbreaker.IsOpen(err):
		return CodeCircuitOpen
	case errors.Is(err, xprovider.ErrTimeout):
		return CodeProviderTimeout
	case errors.As(err, &pe):
		return CodeProviderError
	case errors.Is(err, xjob.ErrJobNotFound):
		return CodeJobNotFound
	case errors.Is(err, xjob.ErrAttemptsExhausted):
		return CodeJobAttemptsExhausted
	case errors.Is(err, xjob.ErrJobNotFinished):
		return CodeJobNotFinished
	case errors.Is(err, xjob.ErrJobCancelled), errors.Is(err, context.Canceled):
		return CodeCancelled
	case isInvalid(err):
		return CodeInvalidRequest
	default:
		var fe *xjob.FailedError
		if errors.As(err, &fe) {
			return CodeJobFailed
		}
		return CodeInternal
	}
}

func isInvalid(err error) bool {
	for _, target := range []error{
		ErrInvalidCall, ErrBadPayload,
		xprovider.ErrNilRequest, xprovider.ErrEmptyPrompt,
		xlimit.ErrUnknownTier,
		xjob.ErrEmptyType, xjob.ErrInvalidPriority, xjob.ErrInvalidDelay,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// RetryAfter 提取建议等待时间，仅限流拒绝携带
func RetryAfter(err error) (time.Duration, bool) {
	return xlimit.RetryAfter(err)
}
