// Package storage 提供数据存储相关的子包。
//
// 子包列表：
//   - xcache: 响应缓存，内存 LRU 与 Redis 两种存储，按指纹读写
package storage
