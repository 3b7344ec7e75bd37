// Package context 提供请求上下文相关的子包。
//
// 子包列表：
//   - xctx: 调用方身份（租户/用户/IP）与请求 ID 的 context 存取，以及限流键派生
//
// 设计原则：
//   - 所有上下文信息通过 context.Context 传递，不使用全局变量
//   - 为日志系统提供零分配的属性追加函数
package context
