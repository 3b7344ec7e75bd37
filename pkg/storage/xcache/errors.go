package xcache

import "errors"

var (
	// ErrMiss 未命中（含已过期）。属于正常控制流，不应作为错误记录。
	ErrMiss = errors.New("xcache: miss")

	ErrEmptyKey   = errors.New("xcache: empty key")
	ErrEmptyValue = errors.New("xcache: empty value")
	ErrNilStore   = errors.New("xcache: nil store")
	ErrInvalidTTL = errors.New("xcache: ttl must be positive")
)
