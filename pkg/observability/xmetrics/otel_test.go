package xmetrics_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/omeyang/xrelay/pkg/observability/xmetrics"
)

func TestOTelObserver_RecordsSpanAndMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	obs, err := xmetrics.NewOTelObserver(xmetrics.WithMeterProvider(mp), xmetrics.WithTracerProvider(tp))
	require.NoError(t, err)

	_, span := obs.Start(context.Background(), xmetrics.SpanOptions{
		Component: "xdispatch", Operation: "dispatch", Kind: xmetrics.KindClient,
		Attrs: []xmetrics.Attr{xmetrics.String("provider", "primary")},
	})
	span.End(xmetrics.Result{Err: errors.New("boom")})
	span.End(xmetrics.Result{})

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "xdispatch.dispatch", spans[0].Name())

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != xmetrics.MetricOperationTotal {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
				status, _ := dp.Attributes.Value("status")
				assert.Equal(t, "error", status.AsString())
			}
		}
	}
	assert.Equal(t, int64(1), total)
}

func TestStart_NilObserver(t *testing.T) {
	ctx, span := xmetrics.Start(context.Background(), nil, xmetrics.SpanOptions{})
	assert.NotNil(t, ctx)
	assert.IsType(t, xmetrics.NoopSpan{}, span)

	ctx, span = xmetrics.NoopObserver{}.Start(context.Background(), xmetrics.SpanOptions{})
	assert.NotNil(t, ctx)
	span.End(xmetrics.Result{})
}
