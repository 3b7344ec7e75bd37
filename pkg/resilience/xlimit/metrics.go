package xlimit

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const (
	metricRequests = "xrelay.throttle.requests"
	metricDenied   = "xrelay.throttle.denied"
	metricFallback = "xrelay.throttle.fallback"
)

type limiterMetrics struct {
	requests metric.Int64Counter
	denied   metric.Int64Counter
	fallback metric.Int64Counter
}

func newLimiterMetrics(mp metric.MeterProvider) (*limiterMetrics, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter("github.com/omeyang/xrelay/xlimit")
	requests, err := meter.Int64Counter(metricRequests,
		metric.WithDescription("准入判定总数"), metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	denied, err := meter.Int64Counter(metricDenied,
		metric.WithDescription("被限流拒绝的请求数"), metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	fallback, err := meter.Int64Counter(metricFallback,
		metric.WithDescription("后端降级次数"), metric.WithUnit("{fallback}"))
	if err != nil {
		return nil, err
	}
	return &limiterMetrics{requests: requests, denied: denied, fallback: fallback}, nil
}

func (m *limiterMetrics) record(ctx context.Context, tier, tenant string, allowed bool) {
	ctx = context.WithoutCancel(ctx)
	attrs := metric.WithAttributes(attribute.String("tier", tier), attribute.Bool("allowed", allowed))
	m.requests.Add(ctx, 1, attrs)
	if !allowed {
		m.denied.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier), attribute.String("tenant", tenant)))
	}
}
