// Package observe provides application-wide observability primitives for
// earshot: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all earshot metrics.
const meterName = "github.com/MrWong99/earshot"

// Segment outcomes used with [Metrics.RecordSegment].
const (
	SegmentDispatched = "dispatched"
	SegmentDiscarded  = "discarded"
	SegmentRejected   = "rejected"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Capture ---

	// BlocksReceived counts blocks delivered by the capture device.
	BlocksReceived metric.Int64Counter

	// BlocksDropped counts blocks evicted from the full block queue.
	BlocksDropped metric.Int64Counter

	// DeviceStatus counts driver status anomalies. Use with attribute:
	//   attribute.String("status", ...)
	DeviceStatus metric.Int64Counter

	// --- Analysis ---

	// FramesAnalyzed counts 512-sample frames passed to the VAD.
	FramesAnalyzed metric.Int64Counter

	// SpeechFrames counts frames classified as speech.
	SpeechFrames metric.Int64Counter

	// Segments counts closed segments. Use with attribute:
	//   attribute.String("outcome", "dispatched"|"discarded"|"rejected")
	Segments metric.Int64Counter

	// SegmentAudio tracks the audio length of dispatched segments.
	SegmentAudio metric.Float64Histogram

	// AnalysisErrors counts per-block analysis failures. Use with attribute:
	//   attribute.String("stage", ...)
	AnalysisErrors metric.Int64Counter

	// VADDuration tracks per-frame VAD inference latency.
	VADDuration metric.Float64Histogram

	// --- Transcription ---

	// STTDuration tracks speech-to-text transcription latency. Use with
	// attribute: attribute.String("mode", ...)
	STTDuration metric.Float64Histogram

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// Transcripts counts delivered non-empty transcripts by mode.
	Transcripts metric.Int64Counter

	// BreakerTransitions counts backend circuit breaker state changes. Use
	// with attributes: attribute.String("provider", ...),
	// attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveListeners tracks the number of running capture sessions.
	ActiveListeners metric.Int64UpDownCounter

	// PendingSegments tracks segments queued or in flight in the
	// dispatcher.
	PendingSegments metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks control API latency. Use with attributes:
	//   attribute.String("route", ...), attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// transcription and HTTP latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// vadBuckets covers per-frame inference, which must stay well below the
// 32 ms frame period.
var vadBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.032,
}

// audioBuckets covers segment lengths in seconds.
var audioBuckets = []float64{
	1, 2, 3, 5, 8, 13, 20, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.BlocksReceived, "earshot.capture.blocks", "Total audio blocks received from the capture device."},
		{&met.BlocksDropped, "earshot.capture.blocks_dropped", "Total audio blocks evicted from the full block queue."},
		{&met.DeviceStatus, "earshot.capture.status", "Total capture driver status anomalies by status."},
		{&met.FramesAnalyzed, "earshot.vad.frames", "Total frames classified by the VAD."},
		{&met.SpeechFrames, "earshot.vad.speech_frames", "Total frames classified as speech."},
		{&met.Segments, "earshot.segments", "Total closed speech segments by outcome."},
		{&met.AnalysisErrors, "earshot.analysis.errors", "Total analysis failures by stage."},
		{&met.ProviderRequests, "earshot.provider.requests", "Total provider API requests by provider, kind, and status."},
		{&met.ProviderErrors, "earshot.provider.errors", "Total provider errors by provider and kind."},
		{&met.Transcripts, "earshot.transcripts", "Total non-empty transcripts delivered by mode."},
		{&met.BreakerTransitions, "earshot.stt.breaker.transitions", "Backend circuit breaker transitions by provider and new state."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.SegmentAudio, err = m.Float64Histogram("earshot.segment.audio_duration",
		metric.WithDescription("Audio length of dispatched segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(audioBuckets...),
	); err != nil {
		return nil, err
	}
	if met.VADDuration, err = m.Float64Histogram("earshot.vad.duration",
		metric.WithDescription("Latency of VAD inference per frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(vadBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("earshot.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveListeners, err = m.Int64UpDownCounter("earshot.active_listeners",
		metric.WithDescription("Number of running capture sessions."),
	); err != nil {
		return nil, err
	}
	if met.PendingSegments, err = m.Int64UpDownCounter("earshot.dispatch.pending",
		metric.WithDescription("Segments queued or being transcribed."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("earshot.http.request.duration",
		metric.WithDescription("Control API latency by route and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
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

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordSegment records a closed segment with the given outcome.
func (m *Metrics) RecordSegment(ctx context.Context, outcome string) {
	m.Segments.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordAnalysisError records an analysis failure in stage.
func (m *Metrics) RecordAnalysisError(ctx context.Context, stage string) {
	m.AnalysisErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordDeviceStatus records a capture driver status anomaly.
func (m *Metrics) RecordDeviceStatus(ctx context.Context, status string) {
	m.DeviceStatus.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordBreakerTransition records a backend circuit breaker entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("state", state),
	))
}
