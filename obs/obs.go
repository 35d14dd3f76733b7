//go:build !nometrics

package obs

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

var (
	setupOnce sync.Once
	shutdown  = func(context.Context) error { return nil }
)

var (
	requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rankfuse_requests_total",
		Help: "Total requests by route and return code.",
	}, []string{"route", "code"})
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rankfuse_request_duration_ms",
		Help:    "Histogram of request latency in ms by route.",
		Buckets: prometheus.ExponentialBuckets(5, 2, 8),
	}, []string{"route"})
	fusedItems = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rankfuse_fused_items",
		Help:    "Histogram of fused result list sizes.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 8),
	})
	sourceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rankfuse_source_errors_total",
		Help: "Count of upstream errors grouped by source and code.",
	}, []string{"source", "code"})
	cacheEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rankfuse_cache_events_total",
		Help: "Cache lookups by route and outcome.",
	}, []string{"route", "outcome"})
)

// ObserveRequest records request-level metrics for one route. The trace
// identifier, when present, is attached to the latency sample as an
// exemplar.
func ObserveRequest(route, code string, duration time.Duration, traceID string) {
	requests.WithLabelValues(route, code).Inc()
	observer := requestDuration.WithLabelValues(route)
	if eo, ok := observer.(prometheus.ExemplarObserver); ok && traceID != "" {
		eo.ObserveWithExemplar(
			float64(duration.Milliseconds()),
			prometheus.Labels{"trace_id": traceID},
		)
		return
	}
	observer.Observe(float64(duration.Milliseconds()))
}

// ObserveFused records the size of one fused result list.
func ObserveFused(count int) {
	fusedItems.Observe(float64(count))
}

// RecordSourceError increments the error counter for a source/code combination.
func RecordSourceError(source, code string) {
	sourceErrors.WithLabelValues(source, code).Inc()
}

// ObserveCache records a cache lookup outcome for one route.
func ObserveCache(route string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	cacheEvents.WithLabelValues(route, outcome).Inc()
}

// InitTracer sets up a minimal OpenTelemetry tracer provider. The
// returned shutdown func is never nil, so callers can defer it
// unconditionally.
func InitTracer(serviceName string) (func(context.Context) error, error) {
	var initErr error
	setupOnce.Do(func() {
		res, err := resource.New(context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(serviceName),
			),
		)
		if err != nil {
			initErr = err
			return
		}

		provider := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.3))),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(provider)
		shutdown = provider.Shutdown
	})
	if shutdown == nil {
		return func(context.Context) error { return nil }, initErr
	}
	return shutdown, initErr
}
