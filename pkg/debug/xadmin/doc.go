// Package xadmin 提供本地管理通道：Unix Socket 上的帧化 JSON 协议。
//
// 管理操作（重置熔断器、清空缓存、查看指标、取消任务）只通过该通道暴露，
// 不提供网络端口。访问控制依赖 socket 文件权限（默认 0600），
// 对端身份通过 SO_PEERCRED 获取并写入审计日志。
//
// 消息格式：
//
//	Magic(2) | Version(1) | Type(1) | Length(4) | JSON payload
//
// 内置命令见 RegisterBuiltins，xrelayctl 是配套客户端。
package xadmin
