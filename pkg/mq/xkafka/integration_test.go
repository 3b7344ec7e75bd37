//go:build integration

package xkafka_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kafkaContainer "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/omeyang/xrelay/pkg/business/xcost"
	"github.com/omeyang/xrelay/pkg/context/xctx"
	"github.com/omeyang/xrelay/pkg/mq/xkafka"
	"github.com/omeyang/xrelay/pkg/observability/xlog"
)

// setupKafka 启动 Kafka 容器并返回 bootstrap servers
func setupKafka(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := kafkaContainer.Run(ctx,
		"confluentinc/cp-kafka:7.5.0",
		kafkaContainer.WithClusterID("xrelay-test"),
	)
	if err != nil {
		t.Skipf("无法启动 Kafka 容器: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, brokers, topic string) {
	t.Helper()
	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{"bootstrap.servers": brokers})
	require.NoError(t, err)
	defer admin.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{
		{Topic: topic, NumPartitions: 1, ReplicationFactor: 1},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	if c := results[0].Error.Code(); c != kafka.ErrNoError && c != kafka.ErrTopicAlreadyExists {
		t.Fatalf("create topic: %v", results[0].Error)
	}
}

func TestIntegration_UsageEventsReachTopic(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	brokers := setupKafka(t)
	const topic = "xrelay-usage-it"
	createTopic(t, brokers, topic)

	p, err := xkafka.NewProducer(&kafka.ConfigMap{"bootstrap.servers": brokers, "acks": "all"},
		xkafka.WithLogger(xlog.Discard()))
	require.NoError(t, err)

	ctx, err := xctx.WithRequestID(context.Background(), "req-42")
	require.NoError(t, err)
	sink := xcost.NewKafkaSink(p, topic, xlog.Discard())
	sink.Emit(ctx, xcost.Event{
		Kind:     xcost.KindProviderSuccess,
		Tenant:   "acme",
		Provider: "primary",
		Cost:     0.002,
		At:       time.Now().UTC(),
	})
	require.NoError(t, p.Close())
	assert.Equal(t, int64(1), p.Stats().Delivered)

	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"group.id":          "xrelay-it",
		"auto.offset.reset": "earliest",
	})
	require.NoError(t, err)
	defer consumer.Close()
	require.NoError(t, consumer.Subscribe(topic, nil))

	msg, err := consumer.ReadMessage(30 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "acme", string(msg.Key))

	var ev xcost.Event
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	assert.Equal(t, xcost.KindProviderSuccess, ev.Kind)
	assert.Equal(t, "primary", ev.Provider)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "req-42", headers["x-request-id"])
}
