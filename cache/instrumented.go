package cache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce     sync.Once
	cacheOperations metric.Int64Counter
	cacheDuration   metric.Float64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/meigma/imgfetch/cache")

		var err error
		cacheOperations, err = meter.Int64Counter(
			"imgfetch.cache.operations",
			metric.WithDescription("Total byte cache operations"),
		)
		if err != nil {
			otel.Handle(err)
		}

		cacheDuration, err = meter.Float64Histogram(
			"imgfetch.cache.operation.duration",
			metric.WithDescription("Byte cache operation duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// Instrumented wraps a Cache with metrics instrumentation.
type Instrumented struct {
	wrapped   Cache
	cacheType string
}

// Interface compliance.
var (
	_ Cache   = (*Instrumented)(nil)
	_ Deleter = (*Instrumented)(nil)
)

// NewInstrumented creates an instrumented cache wrapper. cacheType labels
// the recorded metrics, for example "disk" or "memory".
func NewInstrumented(cache Cache, cacheType string) *Instrumented {
	initMetrics()
	return &Instrumented{
		wrapped:   cache,
		cacheType: cacheType,
	}
}

// Unwrap returns the wrapped cache.
func (i *Instrumented) Unwrap() Cache {
	return i.wrapped
}

// Get retrieves content from the wrapped cache.
func (i *Instrumented) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()

	content, found, err := i.wrapped.Get(ctx, key)

	duration := time.Since(start)
	i.recordDuration(ctx, "get", duration)

	status := "miss"
	if err != nil {
		status = "error"
	} else if found {
		status = "hit"
	}
	i.recordOperation(ctx, "get", status)
	i.setSpanAttributes(ctx, "get", status, duration)

	return content, found, err
}

// Put stores content in the wrapped cache.
func (i *Instrumented) Put(ctx context.Context, key string, content []byte) error {
	start := time.Now()

	err := i.wrapped.Put(ctx, key, content)

	duration := time.Since(start)
	i.recordDuration(ctx, "put", duration)

	status := "success"
	if err != nil {
		status = "error"
	}
	i.recordOperation(ctx, "put", status)
	i.setSpanAttributes(ctx, "put", status, duration)

	return err
}

// Delete removes an entry when the wrapped cache supports deletion.
func (i *Instrumented) Delete(ctx context.Context, key string) error {
	d, ok := i.wrapped.(Deleter)
	if !ok {
		return nil
	}
	start := time.Now()

	err := d.Delete(ctx, key)

	duration := time.Since(start)
	i.recordDuration(ctx, "delete", duration)

	status := "success"
	if err != nil {
		status = "error"
	}
	i.recordOperation(ctx, "delete", status)
	i.setSpanAttributes(ctx, "delete", status, duration)

	return err
}

func (i *Instrumented) recordOperation(ctx context.Context, operation, status string) {
	if cacheOperations == nil {
		return
	}
	cacheOperations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("cache.type", i.cacheType),
			attribute.String("cache.operation", operation),
			attribute.String("cache.status", status),
		),
	)
}

func (i *Instrumented) recordDuration(ctx context.Context, operation string, duration time.Duration) {
	if cacheDuration == nil {
		return
	}
	cacheDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("cache.type", i.cacheType),
			attribute.String("cache.operation", operation),
		),
	)
}

func (i *Instrumented) setSpanAttributes(ctx context.Context, operation, status string, duration time.Duration) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("cache.type", i.cacheType),
		attribute.String("cache."+operation+".status", status),
		attribute.Float64("cache."+operation+".duration", duration.Seconds()),
	)
}
