package imgfetch

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/meigma/imgfetch"

// Fetch outcomes recorded on imgfetch.fetch.requests.
const (
	outcomeMemoryHit  = "memory_hit"
	outcomeCacheHit   = "cache_hit"
	outcomeDownloaded = "downloaded"
	outcomeFailed     = "failed"
	outcomeCanceled   = "canceled"
)

type fetchMetrics struct {
	requests  metric.Int64Counter
	duration  metric.Float64Histogram
	discarded metric.Int64Counter
}

func newFetchMetrics(mp metric.MeterProvider) (*fetchMetrics, error) {
	meter := mp.Meter(meterName)

	requests, err := meter.Int64Counter(
		"imgfetch.fetch.requests",
		metric.WithDescription("Image fetch requests by outcome"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"imgfetch.fetch.duration",
		metric.WithDescription("Image fetch duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	discarded, err := meter.Int64Counter(
		"imgfetch.bind.discarded",
		metric.WithDescription("Bound results dropped because the slot moved on"),
	)
	if err != nil {
		return nil, err
	}

	return &fetchMetrics{requests: requests, duration: duration, discarded: discarded}, nil
}

func (m *fetchMetrics) record(ctx context.Context, outcome string, elapsed time.Duration) {
	ctx = context.WithoutCancel(ctx)
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.requests.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}

func (m *fetchMetrics) discard(ctx context.Context) {
	m.discarded.Add(context.WithoutCancel(ctx), 1)
}
