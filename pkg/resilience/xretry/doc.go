// Package xretry 提供退避策略与基于 retry-go 的重试执行器。
//
// BackoffPolicy 被两处使用：
//   - Retryer: 同步重试（Redis/SQLite 启动探活、存储写入）
//   - xjob: 任务失败后计算下一次可执行时间
//
// 错误分类：实现 Retryable() bool 的错误由其自身决定是否可重试，
// 其余错误默认可重试。PermanentError 包装的错误立即终止重试。
package xretry
