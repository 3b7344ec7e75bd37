package xmetrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// InstrumentationName 默认的 instrumentation scope
	InstrumentationName = "github.com/omeyang/xrelay"

	MetricOperationTotal    = "xrelay.operation.total"
	MetricOperationDuration = "xrelay.operation.duration"

	unknown = "unknown"
)

type otelConfig struct {
	name           string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option 配置 OTel 观测器
type Option func(*otelConfig)

func WithInstrumentationName(name string) Option {
	return func(c *otelConfig) {
		if name != "" {
			c.name = name
		}
	}
}

func WithTracerProvider(p trace.TracerProvider) Option {
	return func(c *otelConfig) {
		if p != nil {
			c.tracerProvider = p
		}
	}
}

func WithMeterProvider(p metric.MeterProvider) Option {
	return func(c *otelConfig) {
		if p != nil {
			c.meterProvider = p
		}
	}
}

// NewOTelObserver 创建基于 OpenTelemetry 的观测器，默认使用全局 Provider
func NewOTelObserver(opts ...Option) (Observer, error) {
	cfg := &otelConfig{
		name:           InstrumentationName,
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	meter := cfg.meterProvider.Meter(cfg.name)
	total, err := meter.Int64Counter(MetricOperationTotal,
		metric.WithDescription("total operations"), metric.WithUnit("1"))
	if err != nil {
		return nil, fmt.Errorf("xmetrics: create counter: %w", err)
	}
	duration, err := meter.Float64Histogram(MetricOperationDuration,
		metric.WithDescription("operation duration"), metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("xmetrics: create histogram: %w", err)
	}
	return &otelObserver{
		tracer:   cfg.tracerProvider.Tracer(cfg.name),
		total:    total,
		duration: duration,
	}, nil
}

type otelObserver struct {
	tracer   trace.Tracer
	total    metric.Int64Counter
	duration metric.Float64Histogram
}

func (o *otelObserver) Start(ctx context.Context, opts SpanOptions) (context.Context, Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	component, operation := opts.Component, opts.Operation
	if component == "" {
		component = unknown
	}
	if operation == "" {
		operation = unknown
	}
	attrs := append([]attribute.KeyValue{
		attribute.String("component", component),
		attribute.String("operation", operation),
	}, toOTel(opts.Attrs)...)

	ctx, span := o.tracer.Start(ctx, component+"."+operation,
		trace.WithSpanKind(spanKind(opts.Kind)),
		trace.WithAttributes(attrs...),
	)
	return ctx, &otelSpan{
		span:      span,
		observer:  o,
		ctx:       ctx,
		component: component,
		operation: operation,
		start:     time.Now(),
	}
}

type otelSpan struct {
	span      trace.Span
	observer  *otelObserver
	ctx       context.Context
	component string
	operation string
	start     time.Time
	once      sync.Once
}

func (s *otelSpan) End(result Result) {
	s.once.Do(func() {
		status := result.Status
		if status == "" {
			status = StatusOK
			if result.Err != nil {
				status = StatusError
			}
		}
		if result.Err != nil {
			s.span.RecordError(result.Err)
		}
		if status == StatusError {
			msg := "operation failed"
			if result.Err != nil {
				msg = result.Err.Error()
			}
			s.span.SetStatus(codes.Error, msg)
		} else {
			s.span.SetStatus(codes.Ok, "")
		}
		if len(result.Attrs) > 0 {
			s.span.SetAttributes(toOTel(result.Attrs)...)
		}
		s.span.End()

		// 调用方 ctx 可能已取消，指标记录不受其影响
		ctx := context.WithoutCancel(s.ctx)
		set := metric.WithAttributes(
			attribute.String("component", s.component),
			attribute.String("operation", s.operation),
			attribute.String("status", string(status)),
		)
		s.observer.total.Add(ctx, 1, set)
		s.observer.duration.Record(ctx, time.Since(s.start).Seconds(), set)
	})
}

func spanKind(k Kind) trace.SpanKind {
	switch k {
	case KindServer:
		return trace.SpanKindServer
	case KindClient:
		return trace.SpanKindClient
	case KindProducer:
		return trace.SpanKindProducer
	case KindConsumer:
		return trace.SpanKindConsumer
	default:
		return trace.SpanKindInternal
	}
}

func toOTel(attrs []Attr) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, a := range attrs {
		if a.Key == "" || a.Value == nil {
			continue
		}
		switch v := a.Value.(type) {
		case string:
			out = append(out, attribute.String(a.Key, v))
		case bool:
			out = append(out, attribute.Bool(a.Key, v))
		case int:
			out = append(out, attribute.Int(a.Key, v))
		case int64:
			out = append(out, attribute.Int64(a.Key, v))
		case float64:
			out = append(out, attribute.Float64(a.Key, v))
		case time.Duration:
			out = append(out, attribute.Int64(a.Key, v.Nanoseconds()))
		default:
			out = append(out, attribute.String(a.Key, fmt.Sprint(v)))
		}
	}
	return out
}
