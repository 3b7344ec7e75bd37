// Package xlimit 提供分级、租户感知的固定窗口限流。
//
// # 分级
//
// 每个 Tier 定义窗口内允许的请求数，默认三档：
//
//	strict    5 / 分钟
//	standard 60 / 分钟
//	loose   300 / 分钟
//
// 不同 Tier 使用独立的计数命名空间（键前缀为 Tier 名），
// 同一调用方在 strict 与 loose 下的计数互不影响。
//
// # 键
//
// 计数键由 xctx.Identity.Key 派生：租户+用户 > 租户+IP > IP。
//
// # 语义
//
// Admit 原子地"检查并计数"：只有被放行的请求才递增计数，
// 被拒绝的请求不会消耗配额。窗口到期（now >= resetAt）后第一次访问
// 以新窗口重新计数。拒绝时返回 *DeniedError，RetryAfter 至少 1 秒，
// 向上取整到整秒。
//
// # 后端
//
//   - LocalBackend: 进程内，xxhash 分片降低锁竞争，需定期 Sweep 清理过期窗口
//   - RedisBackend: Lua 脚本实现的固定窗口，依赖 PX 过期，多实例共享
//   - FallbackBackend: Redis 不可用时按策略降级（local / open / close）
package xlimit
