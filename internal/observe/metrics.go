// Package observe provides application-wide observability primitives for
// Capstan: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Capstan metrics.
const meterName = "github.com/mwidmann/capstan"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Counters ---

	// SamplesRouted counts raw samples accepted by the router. Use with
	// attribute:
	//   attribute.String("kind", ...)
	SamplesRouted metric.Int64Counter

	// SamplesDropped counts raw samples discarded before reaching any
	// consumer. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("reason", ...)
	SamplesDropped metric.Int64Counter

	// FramesEmitted counts validated frames delivered to the frame stream.
	FramesEmitted metric.Int64Counter

	// StreamFramesDropped counts frames evicted from a full stream buffer.
	StreamFramesDropped metric.Int64Counter

	// LedgerErrors counts failed session record writes.
	LedgerErrors metric.Int64Counter

	// --- Latency histograms ---

	// SinkWriteDuration tracks recording sink write latency. Use with
	// attribute:
	//   attribute.String("kind", ...)
	SinkWriteDuration metric.Float64Histogram

	// --- Gauges ---

	// ActiveSessions tracks the number of live capture sessions.
	ActiveSessions metric.Int64UpDownCounter

	// AudioLevel reports the current audio power in dBFS. Use with
	// attribute:
	//   attribute.String("stat", "average"|"peak")
	AudioLevel metric.Float64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for per-sample sink writes.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.SamplesRouted, err = m.Int64Counter("capstan.samples.routed",
		metric.WithDescription("Total raw samples accepted by the router, by kind."),
	); err != nil {
		return nil, err
	}
	if met.SamplesDropped, err = m.Int64Counter("capstan.samples.dropped",
		metric.WithDescription("Total raw samples discarded before reaching a consumer, by kind and reason."),
	); err != nil {
		return nil, err
	}
	if met.FramesEmitted, err = m.Int64Counter("capstan.frames.emitted",
		metric.WithDescription("Total validated frames delivered to the frame stream."),
	); err != nil {
		return nil, err
	}
	if met.StreamFramesDropped, err = m.Int64Counter("capstan.stream.frames_dropped",
		metric.WithDescription("Total frames evicted from a full stream buffer."),
	); err != nil {
		return nil, err
	}
	if met.LedgerErrors, err = m.Int64Counter("capstan.ledger.errors",
		metric.WithDescription("Total failed session record writes."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.SinkWriteDuration, err = m.Float64Histogram("capstan.sink.write.duration",
		metric.WithDescription("Latency of recording sink writes by sample kind."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.ActiveSessions, err = m.Int64UpDownCounter("capstan.active_sessions",
		metric.WithDescription("Number of live capture sessions."),
	); err != nil {
		return nil, err
	}
	if met.AudioLevel, err = m.Float64Gauge("capstan.audio.level",
		metric.WithDescription("Current audio power in dBFS by stat (average or peak)."),
		metric.WithUnit("dBFS"),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("capstan.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSampleRouted records one accepted sample of the given kind.
func (m *Metrics) RecordSampleRouted(ctx context.Context, kind string) {
	m.SamplesRouted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordSampleDropped records one discarded sample with its drop reason.
func (m *Metrics) RecordSampleDropped(ctx context.Context, kind, reason string) {
	m.SamplesDropped.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("reason", reason),
		),
	)
}

// RecordSinkWrite records the latency of one sink write.
func (m *Metrics) RecordSinkWrite(ctx context.Context, kind string, seconds float64) {
	m.SinkWriteDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordAudioLevel records the current average and peak audio power.
func (m *Metrics) RecordAudioLevel(ctx context.Context, averageDB, peakDB float64) {
	m.AudioLevel.Record(ctx, averageDB,
		metric.WithAttributes(attribute.String("stat", "average")),
	)
	m.AudioLevel.Record(ctx, peakDB,
		metric.WithAttributes(attribute.String("stat", "peak")),
	)
}
