package xkafka

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/omeyang/xrelay/internal/mqcore"
	"github.com/omeyang/xrelay/pkg/observability/xlog"
	"github.com/omeyang/xrelay/pkg/observability/xmetrics"
)

// ProducerStats 生产者统计
type ProducerStats struct {
	MessagesProduced int64 `json:"messages_produced"`
	BytesProduced    int64 `json:"bytes_produced"`
	Delivered        int64 `json:"delivered"`
	Errors           int64 `json:"errors"`
	QueueLength      int   `json:"queue_length"`
}

// Producer 事件生产者
type Producer interface {
	// Produce 异步入队，返回 nil 只表示本地入队成功
	Produce(ctx context.Context, topic string, key, value []byte) error
	Stats() ProducerStats
	Close() error
}

type producerWrapper struct {
	producer *kafka.Producer
	options  *producerOptions

	// mu 保护 Flush/Close 与 Len，Produce 本身线程安全
	mu     sync.Mutex
	closed atomic.Bool
	done   chan struct{}

	messagesProduced atomic.Int64
	bytesProduced    atomic.Int64
	delivered        atomic.Int64
	errors           atomic.Int64
}

var _ Producer = (*producerWrapper)(nil)

// NewProducer 创建生产者。config 必须包含 bootstrap.servers，调用方的 ConfigMap 不会被修改。
func NewProducer(config *kafka.ConfigMap, opts ...ProducerOption) (Producer, error) {
	if config == nil {
		return nil, ErrNilConfig
	}
	options := defaultProducerOptions()
	for _, opt := range opts {
		opt(options)
	}

	cloned := &kafka.ConfigMap{}
	for k, v := range *config {
		if err := cloned.SetKey(k, v); err != nil {
			return nil, fmt.Errorf("clone config key %q: %w", k, err)
		}
	}
	p, err := kafka.NewProducer(cloned)
	if err != nil {
		return nil, err
	}
	w := &producerWrapper{producer: p, options: options, done: make(chan struct{})}
	go w.drainEvents()
	return w, nil
}

// drainEvents 读取投递报告，Close 关闭底层生产者后 Events 通道关闭，goroutine 退出
func (w *producerWrapper) drainEvents() {
	defer close(w.done)
	for ev := range w.producer.Events() {
		switch e := ev.(type) {
		case *kafka.Message:
			if e.TopicPartition.Error != nil {
				w.errors.Add(1)
				topic := ""
				if e.TopicPartition.Topic != nil {
					topic = *e.TopicPartition.Topic
				}
				w.options.Logger.Warn(context.Background(), "kafka delivery failed",
					xlog.Component(componentName), slog.String("topic", topic), xlog.Err(e.TopicPartition.Error))
				continue
			}
			w.delivered.Add(1)
		case kafka.Error:
			w.errors.Add(1)
			w.options.Logger.Warn(context.Background(), "kafka producer error",
				xlog.Component(componentName), xlog.Err(e))
		}
	}
}

func (w *producerWrapper) Produce(ctx context.Context, topic string, key, value []byte) (err error) {
	if w.closed.Load() {
		return ErrClosed
	}
	if topic == "" {
		return ErrEmptyTopic
	}
	ctx, span := xmetrics.Start(ctx, w.options.Observer, xmetrics.SpanOptions{
		Component: componentName,
		Operation: "produce",
		Kind:      xmetrics.KindProducer,
		Attrs:     kafkaAttrs(topic),
	})
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            key,
		Value:          value,
		Headers:        headers(ctx),
	}
	if err = w.producer.Produce(msg, nil); err != nil {
		w.errors.Add(1)
		return fmt.Errorf("xkafka: produce: %w", err)
	}
	w.messagesProduced.Add(1)
	w.bytesProduced.Add(int64(len(value)))
	return nil
}

// headers 链路上下文随消息传递给下游消费者
func headers(ctx context.Context) []kafka.Header {
	m := make(map[string]string, 4)
	mqcore.Inject(ctx, m)
	if len(m) == 0 {
		return nil
	}
	out := make([]kafka.Header, 0, len(m))
	for k, v := range m {
		out = append(out, kafka.Header{Key: k, Value: []byte(v)})
	}
	return out
}

// Stats 关闭后 QueueLength 为 0
func (w *producerWrapper) Stats() ProducerStats {
	var queueLen int
	w.mu.Lock()
	if !w.closed.Load() {
		queueLen = w.producer.Len()
	}
	w.mu.Unlock()
	return ProducerStats{
		MessagesProduced: w.messagesProduced.Load(),
		BytesProduced:    w.bytesProduced.Load(),
		Delivered:        w.delivered.Load(),
		Errors:           w.errors.Load(),
		QueueLength:      queueLen,
	}
}

// Close 等待队列清空（受 FlushTimeout 限制）后关闭，重复调用返回 ErrClosed
func (w *producerWrapper) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	remaining := w.producer.Flush(int(w.options.FlushTimeout.Milliseconds()))
	w.producer.Close()
	<-w.done
	if remaining > 0 {
		return fmt.Errorf("%w: %d messages still in queue", ErrFlushTimeout, remaining)
	}
	return nil
}
