package xretry

import "errors"

var (
	ErrNilFunc    = errors.New("xretry: nil function")
	ErrNilContext = errors.New("xretry: nil context")
)

// RetryableError 可声明自身是否可重试的错误
type RetryableError interface {
	error
	Retryable() bool
}

// PermanentError 不可重试的错误
type PermanentError struct{ Err error }

// Permanent 将 err 标记为不可重试，nil 返回 nil
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func (e *PermanentError) Error() string   { return e.Err.Error() }
func (e *PermanentError) Unwrap() error   { return e.Err }
func (e *PermanentError) Retryable() bool { return false }

// TemporaryError 明确可重试的错误
type TemporaryError struct{ Err error }

// Temporary 将 err 标记为可重试，nil 返回 nil
func Temporary(err error) error {
	if err == nil {
		return nil
	}
	return &TemporaryError{Err: err}
}

func (e *TemporaryError) Error() string   { return e.Err.Error() }
func (e *TemporaryError) Unwrap() error   { return e.Err }
func (e *TemporaryError) Retryable() bool { return true }

// IsRetryable 判断错误是否可重试。错误链上第一个实现 RetryableError 的错误决定结果。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var re RetryableError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return true
}

// IsPermanent IsRetryable 的反面，nil 返回 false
func IsPermanent(err error) bool {
	return err != nil && !IsRetryable(err)
}
