// Package xconf 基于 koanf 提供配置加载、反序列化与文件热更新。
//
// 支持 YAML 与 JSON，格式由文件扩展名推断：
//
//	cfg, err := xconf.New("/etc/xrelay/xrelayd.yaml")
//	var tiers []Tier
//	err = cfg.Unmarshal("throttle.tiers", &tiers)
//
// 结构体字段使用 koanf tag，time.Duration 字段支持 "30s" 形式的字符串。
//
// Watcher 监听配置文件所在目录（兼容 k8s ConfigMap 的 symlink 替换），
// 事件经防抖后重新加载并回调；回调收到的 error 非 nil 时旧配置保持不变。
package xconf
