package xmetrics

import "context"

// Kind 操作类型，映射到 trace.SpanKind
type Kind int

const (
	KindInternal Kind = iota
	KindServer
	KindClient
	KindProducer
	KindConsumer
)

// Status 操作结果状态
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Attr 观测属性，Value 支持 string/bool/整数/浮点/time.Duration，其他类型格式化为字符串
type Attr struct {
	Key   string
	Value any
}

// String 便捷构造
func String(k, v string) Attr { return Attr{Key: k, Value: v} }

// SpanOptions 开启一次操作的参数
type SpanOptions struct {
	Component string
	Operation string
	Kind      Kind
	Attrs     []Attr
}

// Result 操作结果。Status 为空时按 Err 推断。
type Result struct {
	Status Status
	Err    error
	Attrs  []Attr
}

// Span 一次操作的观测句柄，End 幂等
type Span interface {
	End(result Result)
}

// Observer 观测器
type Observer interface {
	Start(ctx context.Context, opts SpanOptions) (context.Context, Span)
}

// NoopObserver 空实现
type NoopObserver struct{}

func (NoopObserver) Start(ctx context.Context, _ SpanOptions) (context.Context, Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx, NoopSpan{}
}

// NoopSpan 空实现
type NoopSpan struct{}

func (NoopSpan) End(Result) {}

// Start 安全地开启观测：observer 为 nil 或返回 nil 时退化为 NoopSpan
func Start(ctx context.Context, observer Observer, opts SpanOptions) (context.Context, Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	if observer == nil {
		return ctx, NoopSpan{}
	}
	retCtx, span := observer.Start(ctx, opts)
	if retCtx == nil {
		retCtx = ctx
	}
	if span == nil {
		span = NoopSpan{}
	}
	return retCtx, span
}
