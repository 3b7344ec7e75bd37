// Package xbreaker 提供基于 [sony/gobreaker/v2] 的熔断器。
//
// # 状态
//
//   - StateClosed：请求正常通过，结果写入滚动窗口
//   - StateOpen：请求直接失败，不调用下游
//   - StateHalfOpen：resetTimeout 之后只放行一个探测请求
//
// # 熔断策略
//
// 默认使用 RollingWindowPolicy：最近 size 次调用全部记录后，
// 失败占比达到 ratio 即熔断。判定发生在记录失败时。
//
// 也可以通过 WithTripPolicy 使用 ConsecutiveFailuresPolicy 或 FailureRatioPolicy。
//
// # 事件
//
// Subscribe 返回状态变化事件通道，发送不阻塞熔断器，缓冲区满时丢弃。
//
// [sony/gobreaker/v2]: https://github.com/sony/gobreaker
package xbreaker
