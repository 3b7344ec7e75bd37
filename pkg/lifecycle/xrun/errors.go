package xrun

import (
	"errors"
	"fmt"
	"os"
)

var (
	// ErrSignal 收到退出信号，可用 errors.Is 判断
	ErrSignal = errors.New("received signal")

	ErrNilFunc         = errors.New("xrun: nil function")
	ErrNilServer       = errors.New("xrun: nil server")
	ErrInvalidInterval = errors.New("xrun: interval must be positive")
)

// SignalError 信号导致的退出
type SignalError struct {
	Signal os.Signal
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("received signal %v", e.Signal)
}

func (e *SignalError) Unwrap() error { return ErrSignal }
