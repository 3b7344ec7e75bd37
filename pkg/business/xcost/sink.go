package xcost

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/omeyang/xrelay/pkg/observability/xlog"
)

// Sink 事件投递目标。Emit 不能阻塞请求路径，失败自行处理。
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// NopSink 丢弃事件
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}

// LogSink 以 info 级别写结构化日志
type LogSink struct {
	Logger xlog.Logger
}

func (s LogSink) Emit(ctx context.Context, ev Event) {
	xlog.OrDefault(s.Logger).Info(ctx, "usage",
		xlog.Component("xcost"),
		slog.String("kind", string(ev.Kind)),
		xlog.Tenant(ev.Tenant),
		xlog.Provider(ev.Provider),
		slog.String("model", ev.Model),
		slog.Int64("prompt_tokens", ev.PromptTokens),
		slog.Int64("completion_tokens", ev.CompletionTokens),
		slog.Float64("cost", ev.Cost),
		slog.Bool("cache_hit", ev.CacheHit),
		xlog.Duration(ev.Latency),
	)
}

// Publisher KafkaSink 依赖的最小生产者接口，xkafka.Producer 满足该接口
type Publisher interface {
	Produce(ctx context.Context, topic string, key, value []byte) error
}

// KafkaSink 以 JSON 写入 topic，按租户分区
type KafkaSink struct {
	publisher Publisher
	topic     string
	logger    xlog.Logger
}

func NewKafkaSink(p Publisher, topic string, logger xlog.Logger) *KafkaSink {
	return &KafkaSink{publisher: p, topic: topic, logger: xlog.OrDefault(logger)}
}

func (s *KafkaSink) Emit(ctx context.Context, ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error(ctx, "encode usage event", xlog.Component("xcost"), xlog.Err(err))
		return
	}
	// 请求 ctx 可能随后取消，入队只依赖本地队列
	if err := s.publisher.Produce(context.WithoutCancel(ctx), s.topic, []byte(ev.Tenant), b); err != nil {
		s.logger.Warn(ctx, "publish usage event", xlog.Component("xcost"), xlog.Err(err))
	}
}

// MultiSink 依次投递给每个 Sink
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, ev)
		}
	}
}

// OrNop nil 时返回 NopSink
func OrNop(s Sink) Sink {
	if s == nil {
		return NopSink{}
	}
	return s
}
