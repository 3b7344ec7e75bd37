package xcost_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xrelay/pkg/business/xcost"
	"github.com/omeyang/xrelay/pkg/observability/xlog"
)

func TestPricing_Fallbacks(t *testing.T) {
	p, err := xcost.NewPricing(
		xcost.Price{Provider: "primary", Model: "gpt-4o", PromptPer1K: 5, CompletionPer1K: 15},
		xcost.Price{Provider: "primary", PromptPer1K: 1, CompletionPer1K: 2},
		xcost.Price{Model: "echo-1"},
		xcost.Price{PromptPer1K: 0.5, CompletionPer1K: 0.5},
	)
	require.NoError(t, err)

	assert.InDelta(t, 0.005+0.015, p.Cost("primary", "gpt-4o", 1000, 1000), 1e-12)
	assert.InDelta(t, 0.001+0.004, p.Cost("primary", "other", 1000, 2000), 1e-12)
	assert.InDelta(t, 0, p.Cost("secondary", "echo-1", 1000, 1000), 1e-12)
	assert.InDelta(t, 1.0, p.Cost("secondary", "x", 1000, 1000), 1e-12)

	empty, err := xcost.NewPricing()
	require.NoError(t, err)
	assert.Zero(t, empty.Cost("a", "b", 100, 100))

	var nilPricing *xcost.Pricing
	assert.Zero(t, nilPricing.Cost("a", "b", 100, 100))

	_, err = xcost.NewPricing(xcost.Price{PromptPer1K: -1})
	assert.ErrorIs(t, err, xcost.ErrNegativePrice)
}

type fakePublisher struct {
	mu    sync.Mutex
	topic string
	keys  [][]byte
	vals  [][]byte
	err   error
}

func (f *fakePublisher) Produce(_ context.Context, topic string, key, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topic = topic
	f.keys = append(f.keys, key)
	f.vals = append(f.vals, value)
	return f.err
}

func TestKafkaSink(t *testing.T) {
	pub := &fakePublisher{}
	s := xcost.NewKafkaSink(pub, "usage", xlog.Discard())

	s.Emit(context.Background(), xcost.Event{Kind: xcost.KindCacheHit, Tenant: "acme", CacheHit: true})

	require.Len(t, pub.vals, 1)
	assert.Equal(t, "usage", pub.topic)
	assert.Equal(t, []byte("acme"), pub.keys[0])
	var ev xcost.Event
	require.NoError(t, json.Unmarshal(pub.vals[0], &ev))
	assert.Equal(t, xcost.KindCacheHit, ev.Kind)
	assert.True(t, ev.CacheHit)
	assert.Zero(t, ev.Cost)
}

func TestKafkaSink_PublishErrorIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := xlog.New().SetOutput(&buf).SetFormat("json").Build()
	require.NoError(t, err)
	defer func() { _ = cleanup() }()

	s := xcost.NewKafkaSink(&fakePublisher{err: errors.New("queue full")}, "usage", logger)
	s.Emit(context.Background(), xcost.Event{Kind: xcost.KindFailure})
	assert.Contains(t, buf.String(), "queue full")
}

type recordSink struct {
	mu     sync.Mutex
	events []xcost.Event
}

func (r *recordSink) Emit(_ context.Context, ev xcost.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func TestMultiSink(t *testing.T) {
	a, b := &recordSink{}, &recordSink{}
	m := xcost.MultiSink{a, nil, b, xcost.LogSink{Logger: xlog.Discard()}}
	m.Emit(context.Background(), xcost.Event{Kind: xcost.KindProviderSuccess})
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)

	xcost.OrNop(nil).Emit(context.Background(), xcost.Event{})
}
