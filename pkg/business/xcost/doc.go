// Package xcost 负责补全调用的成本计算与用量事件投递。
//
// 价格按 provider/model 查找，依次回退到 provider/*、*/model、*/*，都没有时成本为 0。
// 缓存命中的边际成本恒为 0。
//
// 事件通过 Sink 投递给计费与审计方：LogSink 写结构化日志，KafkaSink 写 Kafka，
// MultiSink 组合多个 Sink。Emit 不返回错误，投递失败只记录日志，不影响请求。
package xcost
