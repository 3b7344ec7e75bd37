package xctx

import (
	"context"
	"log/slog"
)

// AppendAttrs 将 context 中的身份与请求 ID 追加到现有切片，只追加非空字段。
func AppendAttrs(attrs []slog.Attr, ctx context.Context) []slog.Attr {
	if ctx == nil {
		return attrs
	}
	if id, ok := ctx.Value(keyIdentity).(Identity); ok {
		if id.Tenant != "" {
			attrs = append(attrs, slog.String(KeyTenantID, id.Tenant))
		}
		if id.User != "" {
			attrs = append(attrs, slog.String(KeyUserID, id.User))
		}
		if id.IP != "" {
			attrs = append(attrs, slog.String(KeyClientIP, id.IP))
		}
	}
	if v := RequestID(ctx); v != "" {
		attrs = append(attrs, slog.String(KeyRequestID, v))
	}
	if v := JobID(ctx); v != "" {
		attrs = append(attrs, slog.String(KeyJobID, v))
	}
	return attrs
}
