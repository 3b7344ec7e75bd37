package xdlock

import (
	"errors"
	"strings"
)

var (
	// ErrLockHeld 锁被其他持有者占用。TryLock 将其转换为 (nil, nil)。
	ErrLockHeld = errors.New("xdlock: lock is held by another owner")

	ErrLockFailed    = errors.New("xdlock: failed to acquire lock")
	ErrExtendFailed  = errors.New("xdlock: failed to extend lock")
	ErrNotLocked     = errors.New("xdlock: not locked")
	ErrNilClient     = errors.New("xdlock: client is nil")
	ErrFactoryClosed = errors.New("xdlock: factory is closed")
	ErrEmptyKey      = errors.New("xdlock: key must not be empty")
	ErrKeyTooLong    = errors.New("xdlock: key exceeds maximum length of 512 bytes")
)

const maxKeyLength = 512

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	if len(key) > maxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}
