// Package xjob 持久化的优先级任务队列。
//
// 任务生命周期：
//
//	waiting → active → completed
//	                 → delayed → waiting      (可重试失败，指数退避)
//	                 → failed                 (不可重试或达到尝试上限)
//	active 租约过期 → waiting / failed        (停滞回收)
//
// 调度顺序：priority 数值小者优先，同优先级按入队顺序（Seq）。
// 并发由 WithConcurrency 限制，启动速率由 RateCap 限制（滚动窗口内最多 N 个）。
// 同一任务的各次尝试严格串行：任务在 active 期间不会被再次领取。
//
// 存储实现：
//   - NewMemoryStore: 进程内，重启丢失
//   - NewRedisStore: 哈希 + 有序集合 + Lua 脚本，多实例共享
//   - NewSQLiteStore: 单实例持久化
//
// 取消只对尚未开始的任务生效；对运行中的任务仅设置取消标记，
// worker 在下一次心跳时取消处理函数的 context，不保证立即停止。
package xjob
