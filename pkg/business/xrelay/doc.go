// Package xrelay 组合限流、分发与任务队列，提供请求核心的对外入口。
//
// 同步路径：
//
//	Complete → xlimit.Admit → xdispatch.Dispatch（缓存穿透读 + 熔断 + 回退）→ Reply
//
// 异步路径：
//
//	Submit → xlimit.Admit → xjob.Enqueue → Handle
//	worker → JobHandler → xdispatch.Dispatch → 结果写回任务
//
// 限流只发生在入口：队列重试不会再次消耗配额。
//
// 管理操作（ResetBreakers、FlushCache、Metrics）不做鉴权，
// 由调用方（xadmin 本地套接字）保证只有特权用户可达。
package xrelay
