// Package xctx 提供调用方身份与请求标识的 context 管理。
//
// # 身份（Identity）
//
// 一次调用的发起方由三个可选字段描述：
//   - tenant_id : 租户标识
//   - user_id   : 用户标识
//   - client_ip : 客户端 IP
//
// Identity.Key 按固定优先级派生限流键：
//
//	tenant + user  → t:<tenant>:u:<user>
//	tenant + ip    → t:<tenant>:ip:<ip>
//	tenant         → t:<tenant>:ip:unknown
//	ip             → ip:<ip>
//
// 三者皆空返回 ErrEmptyIdentity。租户维度的键与纯 IP 的键处于不同命名空间，
// 同一 IP 下的不同租户互不影响。
//
// # 命名约定
//
//	WithXxx(ctx, value)    - 注入：将 value 写入 context
//	Xxx(ctx)               - 读取：缺失时返回零值
//	EnsureXxx(ctx)         - 确保存在：若已存在则返回，否则自动生成
//
// # 日志集成
//
// AppendAttrs 将 context 中的身份与请求 ID 追加到 slog.Attr 切片，
// 供 xlog 的 EnrichHandler 使用。
package xctx
