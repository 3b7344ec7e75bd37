// Package distributed 提供多实例协调相关的子包。
//
// 子包列表：
//   - xdlock: 互斥锁，本地实现与基于 redsync 的 Redis 实现
//   - xcron: 定时任务，可选持锁执行保证同一时刻只有一个实例运行
package distributed
