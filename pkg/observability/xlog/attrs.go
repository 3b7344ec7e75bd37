package xlog

import (
	"log/slog"
	"time"
)

// 常用属性 Key
const (
	KeyError     = "error"
	KeyStack     = "stack"
	KeyDuration  = "duration"
	KeyCount     = "count"
	KeyComponent = "component"
	KeyOperation = "operation"
	KeyJobID     = "job_id"
	KeyTenant    = "tenant"
	KeyProvider  = "provider"
)

// Err 创建错误属性，err 为 nil 时返回会被忽略的空属性
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

func Duration(d time.Duration) slog.Attr { return slog.String(KeyDuration, d.String()) }

func Component(name string) slog.Attr { return slog.String(KeyComponent, name) }

func Operation(name string) slog.Attr { return slog.String(KeyOperation, name) }

func Count(n int64) slog.Attr { return slog.Int64(KeyCount, n) }

func JobID(id string) slog.Attr { return slog.String(KeyJobID, id) }

func Tenant(t string) slog.Attr { return slog.String(KeyTenant, t) }

func Provider(name string) slog.Attr { return slog.String(KeyProvider, name) }
