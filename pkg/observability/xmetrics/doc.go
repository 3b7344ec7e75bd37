// Package xmetrics 提供统一的操作观测接口。
//
// 组件通过 Observer.Start 开启一次操作，结束时调用 Span.End 报告结果：
//
//	ctx, span := xmetrics.Start(ctx, observer, xmetrics.SpanOptions{
//		Component: "xdispatch",
//		Operation: "dispatch",
//		Kind:      xmetrics.KindClient,
//	})
//	defer func() { span.End(xmetrics.Result{Err: err}) }()
//
// NewOTelObserver 同时产生 trace span 与两个指标：
//   - xrelay.operation.total    （计数，按 component/operation/status 分维）
//   - xrelay.operation.duration （秒，直方图）
//
// Observer 为 nil 时 Start 返回 NoopSpan，组件无需判空。
package xmetrics
