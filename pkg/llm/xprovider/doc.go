// Package xprovider 定义语言模型提供方的能力接口与适配器。
//
// 分发层只依赖 Provider 接口，主备提供方可以是任意实现：
//   - OpenAI：兼容 OpenAI Chat Completions 协议的服务（openai-go/v2，SDK 内置重试关闭）
//   - Echo：本地回显，用于开发与测试
//   - Func：函数适配器
//
// 错误分类：
//   - *Error 上游返回的错误，408/429/5xx 可重试
//   - *TimeoutError 单次调用超过上限，可重试
package xprovider
