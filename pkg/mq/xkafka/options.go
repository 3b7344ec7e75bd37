package xkafka

import (
	"time"

	"github.com/omeyang/xrelay/pkg/observability/xlog"
	"github.com/omeyang/xrelay/pkg/observability/xmetrics"
)

const componentName = "xkafka"

type producerOptions struct {
	Observer     xmetrics.Observer
	Logger       xlog.Logger
	FlushTimeout time.Duration
}

func defaultProducerOptions() *producerOptions {
	return &producerOptions{
		Observer:     xmetrics.NoopObserver{},
		Logger:       xlog.Default(),
		FlushTimeout: 10 * time.Second,
	}
}

// ProducerOption 生产者配置选项
type ProducerOption func(*producerOptions)

// WithObserver 设置统一观测接口
func WithObserver(observer xmetrics.Observer) ProducerOption {
	return func(o *producerOptions) {
		if observer != nil {
			o.Observer = observer
		}
	}
}

// WithLogger 投递失败时记录日志
func WithLogger(l xlog.Logger) ProducerOption {
	return func(o *producerOptions) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithFlushTimeout 设置关闭时的刷新超时时间
func WithFlushTimeout(d time.Duration) ProducerOption {
	return func(o *producerOptions) {
		if d > 0 {
			o.FlushTimeout = d
		}
	}
}

func kafkaAttrs(topic string) []xmetrics.Attr {
	attrs := []xmetrics.Attr{xmetrics.String("messaging.system", "kafka")}
	if topic != "" {
		attrs = append(attrs, xmetrics.String("messaging.destination", topic))
	}
	return attrs
}
