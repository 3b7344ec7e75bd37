// Package xdlock 提供分布式锁，用于保证队列维护任务在多实例部署中只由一个实例执行。
//
// 两种实现：
//   - NewRedisFactory：基于 redsync 的 Redis 锁，多节点时使用 Redlock
//   - NewLocalFactory：进程内实现，单实例部署使用
//
// TryLock 非阻塞：锁被占用时返回 (nil, nil)，只有锁服务异常才返回错误。
package xdlock
