// Package observability 提供可观测性相关的子包。
//
// 子包列表：
//   - xlog: 基于 slog 的结构化日志，自动注入调用方身份与请求 ID
//   - xmetrics: 统一的操作观测接口，OpenTelemetry 实现
package observability
