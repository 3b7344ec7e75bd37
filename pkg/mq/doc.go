// Package mq 提供消息与任务队列相关的子包。
//
// 子包列表：
//   - xjob: 持久化异步任务队列，内存、Redis、SQLite 三种存储
//   - xkafka: Kafka 生产者封装，用于投递用量事件
//
// 内部包：
//   - internal/mqcore: 消息头中的链路上下文与请求标识传播
package mq
