package xlog

import (
	"context"
	"log/slog"

	"github.com/omeyang/xrelay/pkg/context/xctx"
)

// EnrichHandler 从 context 提取调用方身份与请求 ID 并注入日志。
// context 中缺少字段时静默跳过。
type EnrichHandler struct {
	base slog.Handler
}

// NewEnrichHandler 包装 base handler，base 为 nil 时返回 nil
func NewEnrichHandler(base slog.Handler) *EnrichHandler {
	if base == nil {
		return nil
	}
	return &EnrichHandler{base: base}
}

func (h *EnrichHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

// Handle 按 slog 契约 Clone 后再追加属性
func (h *EnrichHandler) Handle(ctx context.Context, r slog.Record) error {
	var buf [4]slog.Attr
	attrs := xctx.AppendAttrs(buf[:0], ctx)
	if len(attrs) > 0 {
		r = r.Clone()
		r.AddAttrs(attrs...)
	}
	return h.base.Handle(ctx, r)
}

func (h *EnrichHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &EnrichHandler{base: h.base.WithAttrs(attrs)}
}

func (h *EnrichHandler) WithGroup(name string) slog.Handler {
	return &EnrichHandler{base: h.base.WithGroup(name)}
}
