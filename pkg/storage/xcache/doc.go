// Package xcache 提供按内容寻址的补全结果缓存。
//
// # 指纹
//
// Fingerprint 对 (模型, 规范化提示词, 规范化参数) 做 SHA-256：
//   - 提示词转小写、去首尾空白、连续空白折叠为单个空格
//   - 参数按键排序序列化为 JSON，nil 与空参数等价
//
// 规范化后等价的请求得到相同指纹；任一字段不同则指纹不同。
//
// # 滑动过期
//
// 每次命中把 ExpiresAt 推迟到 now + TTL 并递增 HitCount；
// 读取时已过期的条目被删除并按未命中处理。
//
// # 存储
//
//   - MemoryStore: golang-lru simplelru，容量受限，注入时钟
//   - RedisStore: 每个条目一个 Hash，Lua 原子完成命中计数与 PEXPIRE
//
// 缓存只写入成功的补全，失败结果从不缓存（由调用方保证，Set 拒绝空值）。
package xcache
