package xlimit

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"
)

var (
	// ErrDenied 请求被限流
	ErrDenied = errors.New("xlimit: rate limited")

	ErrUnknownTier         = errors.New("xlimit: unknown tier")
	ErrInvalidTier         = errors.New("xlimit: invalid tier")
	ErrBackendUnavailable  = errors.New("xlimit: backend unavailable")
	ErrNilBackend          = errors.New("xlimit: nil backend")
	ErrInvalidFallbackMode = errors.New("xlimit: invalid fallback strategy")
)

// DeniedError 限流拒绝详情
type DeniedError struct {
	Tier       string
	Key        string
	Limit      int
	ResetAt    time.Time
	RetryAfter time.Duration
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("xlimit: rate limited by tier %q, key=%s, limit=%d, retry after %s",
		e.Tier, e.Key, e.Limit, e.RetryAfter)
}

func (e *DeniedError) Unwrap() error { return ErrDenied }

// Retryable 同一窗口内立即重试没有意义
func (e *DeniedError) Retryable() bool { return false }

// IsDenied 判断是否为限流拒绝
func IsDenied(err error) bool { return errors.Is(err, ErrDenied) }

// RetryAfter 从错误中提取建议等待时间
func RetryAfter(err error) (time.Duration, bool) {
	var de *DeniedError
	if errors.As(err, &de) {
		return de.RetryAfter, true
	}
	return 0, false
}

// IsRedisError 判断是否为 Redis 连接类错误（触发降级）
func IsRedisError(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range []error{
		ErrBackendUnavailable, syscall.ECONNREFUSED, syscall.ECONNRESET,
		syscall.EPIPE, syscall.ETIMEDOUT, io.EOF, io.ErrUnexpectedEOF,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
