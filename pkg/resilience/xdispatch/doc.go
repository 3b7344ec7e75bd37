// Package xdispatch 实现带缓存穿透读、熔断与主备回退的补全分发。
//
// 一次 Dispatch 的流程：
//
//  1. 计算请求指纹并查询缓存，命中直接返回（Origin=cache，成本 0）
//  2. 未命中时按链路顺序调用提供方，每个提供方有独立熔断器与单次超时
//  3. 第一个成功的结果写入缓存并返回（Origin=primary 或 fallback）
//  4. 全部失败返回 *UnavailableError，列出每次尝试，同一调用内不再重试
//
// 相同指纹的并发未命中请求合并为一次上游调用，跟随者的 Origin 为 coalesced，成本为 0。
//
// 单次超时通过 goroutine + select 强制执行，即使提供方忽略 ctx，
// 熔断器也能及时记录失败。整个链路另有总超时上限。
package xdispatch
