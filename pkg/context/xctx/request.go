package xctx

import (
	"context"

	"github.com/google/uuid"
)

// WithRequestID 将请求 ID 注入 context
func WithRequestID(ctx context.Context, id string) (context.Context, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	return context.WithValue(ctx, keyRequestID, id), nil
}

// RequestID 从 context 提取请求 ID，不存在返回空字符串
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(keyRequestID).(string); ok {
		return v
	}
	return ""
}

// EnsureRequestID 确保 context 携带请求 ID。
// 已存在时原样返回，否则生成 UUIDv4 并注入。
func EnsureRequestID(ctx context.Context) (context.Context, string, error) {
	if ctx == nil {
		return nil, "", ErrNilContext
	}
	if id := RequestID(ctx); id != "" {
		return ctx, id, nil
	}
	id := uuid.NewString()
	return context.WithValue(ctx, keyRequestID, id), id, nil
}

// WithJobID 标记当前调用由队列任务发起
func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyJobID, id)
}

// JobID 不存在返回空字符串
func JobID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(keyJobID).(string)
	return v
}
