package xlog

import (
	"io"
	"log/slog"
	"sync/atomic"
)

var globalLogger atomic.Pointer[LoggerWithLevel]

// Default 返回全局默认 Logger，未设置时惰性创建（stderr，Info，text）。
//
// 服务端组件应显式持有 Logger，全局实例仅用于未注入时的兜底。
func Default() LoggerWithLevel {
	if l := globalLogger.Load(); l != nil {
		return *l
	}
	l, _, err := New().Build()
	if err != nil {
		l = Discard()
	}
	globalLogger.CompareAndSwap(nil, &l)
	return *globalLogger.Load()
}

// SetDefault 替换全局 Logger，nil 被忽略
func SetDefault(l LoggerWithLevel) {
	if l == nil {
		return
	}
	globalLogger.Store(&l)
}

// Discard 返回丢弃所有输出的 Logger
func Discard() LoggerWithLevel {
	levelVar := new(slog.LevelVar)
	levelVar.Set(slog.LevelError + 1)
	return &xlogger{
		handler:    slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: levelVar}),
		levelVar:   levelVar,
		errorCount: new(atomic.Uint64),
	}
}

// OrDefault 返回 l，l 为 nil 时返回 Default()
func OrDefault(l Logger) Logger {
	if l == nil {
		return Default()
	}
	return l
}
