// Package mqcore 消息中间件适配层共用的消息头传播逻辑。
//
// 写入的键：W3C traceparent/tracestate/baggage，以及
// x-request-id、x-job-id、x-tenant（存在时）。
package mqcore
