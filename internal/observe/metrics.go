// Package observe provides application-wide observability primitives for
// huddle: OpenTelemetry metrics, distributed tracing, trace-aware logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped from the admin server's /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all huddle metrics.
const meterName = "github.com/MrWong99/huddle"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// ChunksSent counts chunk deliveries. Use with attributes:
	//   attribute.String("route", ...), attribute.String("status", ...)
	ChunksSent metric.Int64Counter

	// ChunkBytes counts payload bytes accepted by a route.
	ChunkBytes metric.Int64Counter

	// ChunkSendDuration tracks per-chunk send latency including retries.
	ChunkSendDuration metric.Float64Histogram

	// ChunkRetries counts retransmissions marked as replays.
	ChunkRetries metric.Int64Counter

	// RouteFallbacks counts routes passed over. Use with attributes:
	//   attribute.String("route", ...)
	RouteFallbacks metric.Int64Counter

	// CaptureFallbacks counts native encoder failures that forced manual
	// buffering.
	CaptureFallbacks metric.Int64Counter

	// ActiveSessions tracks the number of live recordings.
	ActiveSessions metric.Int64UpDownCounter

	// QueryDuration tracks time from query submission to the complete answer.
	// Use with attribute:
	//   attribute.String("route", ...)
	QueryDuration metric.Float64Histogram

	// QueryErrors counts queries that ended in an error turn.
	QueryErrors metric.Int64Counter

	// HTTPRequestDuration tracks admin HTTP request processing time. Use with
	// attributes:
	//   attribute.String("route", ...), attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries in seconds.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ChunksSent, err = m.Int64Counter("huddle.chunks.sent",
		metric.WithDescription("Audio chunk deliveries by route and status."),
	); err != nil {
		return nil, err
	}
	if met.ChunkBytes, err = m.Int64Counter("huddle.chunks.bytes",
		metric.WithDescription("Audio payload bytes delivered by route."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.ChunkSendDuration, err = m.Float64Histogram("huddle.chunks.send.duration",
		metric.WithDescription("Latency of delivering one audio chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChunkRetries, err = m.Int64Counter("huddle.chunks.retries",
		metric.WithDescription("Audio chunk retransmissions."),
	); err != nil {
		return nil, err
	}
	if met.RouteFallbacks, err = m.Int64Counter("huddle.transport.fallbacks",
		metric.WithDescription("Transport routes passed over by route."),
	); err != nil {
		return nil, err
	}
	if met.CaptureFallbacks, err = m.Int64Counter("huddle.capture.fallbacks",
		metric.WithDescription("Recordings that fell back to manual buffering."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("huddle.active_sessions",
		metric.WithDescription("Number of live recordings."),
	); err != nil {
		return nil, err
	}
	if met.QueryDuration, err = m.Float64Histogram("huddle.query.duration",
		metric.WithDescription("Time from query submission to the complete answer."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.QueryErrors, err = m.Int64Counter("huddle.query.errors",
		metric.WithDescription("Queries that ended in an error."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("huddle.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordChunk records one chunk delivery outcome. route is empty when every
// route failed.
func (m *Metrics) RecordChunk(ctx context.Context, route string, bytes int, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	if route == "" {
		route = "none"
	}
	attrs := metric.WithAttributes(
		attribute.String("route", route),
		attribute.String("status", status),
	)
	m.ChunksSent.Add(ctx, 1, attrs)
	m.ChunkSendDuration.Record(ctx, elapsed.Seconds(), attrs)
	if err == nil {
		m.ChunkBytes.Add(ctx, int64(bytes), metric.WithAttributes(attribute.String("route", route)))
	}
}

// RecordFallback records a route being passed over.
func (m *Metrics) RecordFallback(ctx context.Context, route string) {
	m.RouteFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("route", route)))
}

// RecordQuery records a completed query.
func (m *Metrics) RecordQuery(ctx context.Context, route string, elapsed time.Duration, err error) {
	m.QueryDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("route", route)))
	if err != nil {
		m.QueryErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("route", route)))
	}
}
