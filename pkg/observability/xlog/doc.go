// Package xlog 提供基于 log/slog 的结构化日志。
//
// # 核心接口
//
//   - Logger: Debug/Info/Warn/Error/Stack，所有方法强制传入 context
//   - Leveler: 运行时动态调整级别（配置热更新使用）
//   - LoggerWithLevel: 两者组合，Build 返回此接口
//
// # 构建
//
//	logger, cleanup, err := xlog.New().
//		SetLevelString("info").
//		SetFormat("json").
//		SetRotation("/var/log/xrelay/xrelayd.log").
//		Build()
//	if err != nil { ... }
//	defer cleanup()
//
// SetRotation 使用 lumberjack 按大小轮转日志文件。
//
// # Context 注入
//
// 默认启用 EnrichHandler，从 context 中提取 tenant_id、user_id、client_ip、request_id。
package xlog
