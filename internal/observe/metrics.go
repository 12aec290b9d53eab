// Package observe provides application-wide observability primitives for the
// TTS bridge: OpenTelemetry metrics, tracing helpers, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so everything lands on the
// standard /metrics endpoint. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all bridge metrics.
const meterName = "github.com/davidtorcivia/kokoro-openai-tts"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// SynthesisDuration tracks backend speech synthesis latency. Use with
	// attributes: engine, status.
	SynthesisDuration metric.Float64Histogram

	// PostProcessDuration tracks ffmpeg post-processing latency. Use with
	// attributes: op, status.
	PostProcessDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// SpeakRequests counts delivery-coordinator calls. Use with attributes:
	//   attribute.String("entity", ...), attribute.String("mode", "buffered"|"streamed"),
	//   attribute.String("status", "ok"|"error"|"too_long"|"cancelled")
	SpeakRequests metric.Int64Counter

	// SynthesisErrors counts backend failures. Use with attributes:
	//   attribute.String("engine", ...), attribute.String("kind", "network"|"synthesis")
	SynthesisErrors metric.Int64Counter

	// RelayBytes counts audio bytes pushed through the streaming relay, by
	// entity.
	RelayBytes metric.Int64Counter

	// --- Gauges ---

	// ActiveRelayStreams tracks the number of relay streams currently open.
	ActiveRelayStreams metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Synthesis
// calls run against remote HTTP backends and regularly take whole seconds,
// so the upper buckets reach the client's 30-second budget.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SynthesisDuration, err = m.Float64Histogram("kokorotts.synthesis.duration",
		metric.WithDescription("Latency of backend speech synthesis by engine and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PostProcessDuration, err = m.Float64Histogram("kokorotts.postprocess.duration",
		metric.WithDescription("Latency of ffmpeg post-processing by operation and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("kokorotts.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SpeakRequests, err = m.Int64Counter("kokorotts.speak.requests",
		metric.WithDescription("Total delivery-coordinator calls by entity, mode, and status."),
	); err != nil {
		return nil, err
	}
	if met.SynthesisErrors, err = m.Int64Counter("kokorotts.synthesis.errors",
		metric.WithDescription("Total backend synthesis failures by engine and kind."),
	); err != nil {
		return nil, err
	}
	if met.RelayBytes, err = m.Int64Counter("kokorotts.relay.bytes",
		metric.WithDescription("Audio bytes pushed through the streaming relay by entity."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRelayStreams, err = m.Int64UpDownCounter("kokorotts.relay.active_streams",
		metric.WithDescription("Number of relay streams currently open."),
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

// RecordSynthesis records one synthesis call's latency with the standard
// attribute set.
func (m *Metrics) RecordSynthesis(ctx context.Context, engine, status string, seconds float64) {
	m.SynthesisDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("engine", engine),
			attribute.String("status", status),
		),
	)
}

// RecordPostProcess records one ffmpeg run's latency with the standard
// attribute set.
func (m *Metrics) RecordPostProcess(ctx context.Context, op, status string, seconds float64) {
	m.PostProcessDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
}

// RecordSpeak records one delivery-coordinator call with the standard
// attribute set.
func (m *Metrics) RecordSpeak(ctx context.Context, entity, mode, status string) {
	m.SpeakRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("entity", entity),
			attribute.String("mode", mode),
			attribute.String("status", status),
		),
	)
}

// RecordSynthesisError records one backend failure with the standard
// attribute set.
func (m *Metrics) RecordSynthesisError(ctx context.Context, engine, kind string) {
	m.SynthesisErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("engine", engine),
			attribute.String("kind", kind),
		),
	)
}

// RelayStreamOpened marks one relay stream as active.
func (m *Metrics) RelayStreamOpened(ctx context.Context) {
	m.ActiveRelayStreams.Add(ctx, 1)
}

// RelayStreamClosed marks one relay stream as finished.
func (m *Metrics) RelayStreamClosed(ctx context.Context) {
	m.ActiveRelayStreams.Add(ctx, -1)
}

// AddRelayBytes accumulates relayed audio volume for one entity.
func (m *Metrics) AddRelayBytes(ctx context.Context, entity string, n int64) {
	m.RelayBytes.Add(ctx, n,
		metric.WithAttributes(attribute.String("entity", entity)),
	)
}
