// Package xkafka 封装 confluent-kafka-go 生产者，用于向计费与审计方投递事件。
//
// Produce 异步入队，投递结果由后台 goroutine 读取 Events() 统计；
// Close 先 Flush 再关闭，超时返回 ErrFlushTimeout。
package xkafka
