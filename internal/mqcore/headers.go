package mqcore

import (
	"context"

	"go.opentelemetry.io/otel/propagation"

	"github.com/omeyang/xrelay/pkg/context/xctx"
)

const (
	HeaderRequestID = "x-request-id"
	HeaderJobID     = "x-job-id"
	HeaderTenant    = "x-tenant"
)

var propagator = propagation.NewCompositeTextMapPropagator(
	propagation.TraceContext{},
	propagation.Baggage{},
)

// Inject 把链路上下文与请求标识写入 headers，已有的同名键会被覆盖
func Inject(ctx context.Context, headers map[string]string) {
	if ctx == nil || headers == nil {
		return
	}
	propagator.Inject(ctx, propagation.MapCarrier(headers))
	if id := xctx.RequestID(ctx); id != "" {
		headers[HeaderRequestID] = id
	}
	if id := xctx.JobID(ctx); id != "" {
		headers[HeaderJobID] = id
	}
	if t := xctx.IdentityFrom(ctx).Tenant; t != "" {
		headers[HeaderTenant] = t
	}
}

// Extract 从消息头恢复链路上下文与请求标识，base 为 nil 时使用 Background
func Extract(base context.Context, headers map[string]string) context.Context {
	if base == nil {
		base = context.Background()
	}
	if len(headers) == 0 {
		return base
	}
	ctx := propagator.Extract(base, propagation.MapCarrier(headers))
	if id := headers[HeaderRequestID]; id != "" {
		if c, err := xctx.WithRequestID(ctx, id); err == nil {
			ctx = c
		}
	}
	if id := headers[HeaderJobID]; id != "" {
		ctx = xctx.WithJobID(ctx, id)
	}
	if t := headers[HeaderTenant]; t != "" {
		id := xctx.IdentityFrom(ctx)
		id.Tenant = t
		if c, err := xctx.WithIdentity(ctx, id); err == nil {
			ctx = c
		}
	}
	return ctx
}
