package xlog

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ReplaceAttrFunc 属性替换函数，用于脱敏与字段治理。返回空 Key 的 Attr 表示移除。
type ReplaceAttrFunc func(groups []string, a slog.Attr) slog.Attr

// RotationOption 调整 lumberjack 轮转参数
type RotationOption func(*lumberjack.Logger)

// WithMaxSizeMB 单文件最大尺寸（MB）
func WithMaxSizeMB(n int) RotationOption { return func(l *lumberjack.Logger) { l.MaxSize = n } }

// WithMaxBackups 保留的历史文件数
func WithMaxBackups(n int) RotationOption { return func(l *lumberjack.Logger) { l.MaxBackups = n } }

// WithMaxAgeDays 历史文件保留天数
func WithMaxAgeDays(n int) RotationOption { return func(l *lumberjack.Logger) { l.MaxAge = n } }

// WithCompress 是否 gzip 压缩历史文件
func WithCompress(on bool) RotationOption { return func(l *lumberjack.Logger) { l.Compress = on } }

// Builder 日志配置构建器。配置错误延迟到 Build 返回，先出现的错误优先。
type Builder struct {
	output       io.Writer
	levelVar     *slog.LevelVar
	format       string
	addSource    bool
	enableEnrich bool
	replaceAttr  ReplaceAttrFunc
	static       []slog.Attr
	rotator      io.Closer
	onError      func(error)
	err          error
}

// New 创建配置构建器：stderr、Info 级别、text 格式、启用 context 注入
func New() *Builder {
	levelVar := new(slog.LevelVar)
	levelVar.Set(slog.LevelInfo)
	return &Builder{
		output:       os.Stderr,
		levelVar:     levelVar,
		format:       "text",
		enableEnrich: true,
	}
}

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// SetOutput 设置日志输出目标
func (b *Builder) SetOutput(w io.Writer) *Builder {
	if w == nil {
		return b.fail(errors.New("xlog: nil output"))
	}
	b.output = w
	return b
}

// SetLevel 设置日志级别
func (b *Builder) SetLevel(level Level) *Builder {
	b.levelVar.Set(slog.Level(level))
	return b
}

// SetLevelString 通过字符串设置日志级别
func (b *Builder) SetLevelString(s string) *Builder {
	level, err := ParseLevel(s)
	if err != nil {
		return b.fail(err)
	}
	return b.SetLevel(level)
}

// SetFormat 设置输出格式：text 或 json，空值使用 text
func (b *Builder) SetFormat(format string) *Builder {
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case "":
		b.format = "text"
	case "text", "json":
		b.format = f
	default:
		return b.fail(fmt.Errorf("xlog: unknown format %q", format))
	}
	return b
}

// SetAddSource 是否在日志中添加源码位置
func (b *Builder) SetAddSource(enable bool) *Builder {
	b.addSource = enable
	return b
}

// SetEnrich 是否启用 context 信息自动注入
func (b *Builder) SetEnrich(enable bool) *Builder {
	b.enableEnrich = enable
	return b
}

// SetAttrs 设置每条日志都携带的固定属性（如 service、instance）
func (b *Builder) SetAttrs(attrs ...slog.Attr) *Builder {
	b.static = append(b.static, attrs...)
	return b
}

// SetRotation 输出到按大小轮转的文件。
//
// 默认单文件 100MB、保留 7 个备份、28 天，压缩历史文件。
func (b *Builder) SetRotation(filename string, opts ...RotationOption) *Builder {
	if strings.TrimSpace(filename) == "" {
		return b.fail(errors.New("xlog: empty rotation filename"))
	}
	lj := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     28,
		Compress:   true,
	}
	for _, opt := range opts {
		opt(lj)
	}
	b.rotator = lj
	b.output = lj
	return b
}

// SetOnError 设置内部错误回调（Handler.Handle 失败时同步调用）
func (b *Builder) SetOnError(fn func(error)) *Builder {
	b.onError = fn
	return b
}

// SetReplaceAttr 设置属性替换函数
func (b *Builder) SetReplaceAttr(fn ReplaceAttrFunc) *Builder {
	b.replaceAttr = fn
	return b
}

// Build 构建 Logger。返回的 cleanup 关闭轮转文件，可重复调用。
func (b *Builder) Build() (LoggerWithLevel, func() error, error) {
	if b.err != nil {
		return nil, nil, b.err
	}

	opts := &slog.HandlerOptions{Level: b.levelVar, AddSource: b.addSource}
	if b.replaceAttr != nil {
		opts.ReplaceAttr = b.replaceAttr
	}

	var handler slog.Handler
	if b.format == "json" {
		handler = slog.NewJSONHandler(b.output, opts)
	} else {
		handler = slog.NewTextHandler(b.output, opts)
	}
	if b.enableEnrich {
		handler = &EnrichHandler{base: handler}
	}
	if len(b.static) > 0 {
		handler = handler.WithAttrs(b.static)
	}

	logger := &xlogger{
		handler:    handler,
		levelVar:   b.levelVar,
		onError:    b.onError,
		errorCount: new(atomic.Uint64),
		addSource:  b.addSource,
	}

	var once sync.Once
	rotator := b.rotator
	cleanup := func() error {
		var err error
		once.Do(func() {
			if rotator != nil {
				err = rotator.Close()
			}
		})
		return err
	}
	return logger, cleanup, nil
}
