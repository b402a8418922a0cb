// Package observe provides application-wide observability primitives for
// VoxBridge: OpenTelemetry metrics and the Prometheus exporter bridge that
// serves them on /metrics.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
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

// meterName is the instrumentation scope name used for all VoxBridge metrics.
const meterName = "github.com/voxbridge/voxbridge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text finalization latency.
	STTDuration metric.Float64Histogram

	// MTDuration tracks translation latency.
	MTDuration metric.Float64Histogram

	// TTSDuration tracks speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// --- Counters ---

	// FramesIn counts PCM frames received from participants.
	FramesIn metric.Int64Counter

	// FramesOut counts PCM frames delivered to listeners.
	FramesOut metric.Int64Counter

	// FramesDropped counts dropped frames. Use with attribute:
	//   attribute.String("cause", "inbound_overflow"|"muted"|"terminal")
	FramesDropped metric.Int64Counter

	// Utterances counts finalized utterances.
	Utterances metric.Int64Counter

	// Interims counts interim captions emitted to listeners.
	Interims metric.Int64Counter

	// CacheHits and CacheMisses count TTS cache lookups.
	CacheHits   metric.Int64Counter
	CacheMisses metric.Int64Counter

	// Disconnects counts forced disconnects. Use with attribute:
	//   attribute.String("reason", ...)
	Disconnects metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live call sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveParticipants tracks the number of connected participants
	// across all sessions.
	ActiveParticipants metric.Int64UpDownCounter

	// OutboundQueueDepth samples listener outbound queue depth at enqueue.
	OutboundQueueDepth metric.Int64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) tuned for
// voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("voxbridge.stt.duration",
		metric.WithDescription("Latency of speech-to-text finalization."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MTDuration, err = m.Float64Histogram("voxbridge.mt.duration",
		metric.WithDescription("Latency of text translation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("voxbridge.tts.duration",
		metric.WithDescription("Latency of speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesIn, err = m.Int64Counter("voxbridge.frames.in",
		metric.WithDescription("PCM frames received from participants."),
	); err != nil {
		return nil, err
	}
	if met.FramesOut, err = m.Int64Counter("voxbridge.frames.out",
		metric.WithDescription("PCM frames delivered to listeners."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voxbridge.frames.dropped",
		metric.WithDescription("Dropped PCM frames by cause."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("voxbridge.utterances",
		metric.WithDescription("Finalized utterances."),
	); err != nil {
		return nil, err
	}
	if met.Interims, err = m.Int64Counter("voxbridge.interims",
		metric.WithDescription("Interim captions emitted to listeners."),
	); err != nil {
		return nil, err
	}
	if met.CacheHits, err = m.Int64Counter("voxbridge.ttscache.hits",
		metric.WithDescription("TTS cache hits."),
	); err != nil {
		return nil, err
	}
	if met.CacheMisses, err = m.Int64Counter("voxbridge.ttscache.misses",
		metric.WithDescription("TTS cache misses."),
	); err != nil {
		return nil, err
	}
	if met.Disconnects, err = m.Int64Counter("voxbridge.disconnects",
		metric.WithDescription("Forced participant disconnects by reason."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxbridge.active_sessions",
		metric.WithDescription("Number of live call sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveParticipants, err = m.Int64UpDownCounter("voxbridge.active_participants",
		metric.WithDescription("Number of connected participants across all sessions."),
	); err != nil {
		return nil, err
	}

	if met.OutboundQueueDepth, err = m.Int64Histogram("voxbridge.outbound.queue_depth",
		metric.WithDescription("Listener outbound queue depth sampled at enqueue."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxbridge.http.request.duration",
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

// RecordFrameDropped records one dropped frame with its cause.
func (m *Metrics) RecordFrameDropped(ctx context.Context, cause string) {
	m.FramesDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("cause", cause)),
	)
}

// RecordStageLatency records one adapter call duration for the given
// pipeline stage ("stt", "mt", or "tts").
func (m *Metrics) RecordStageLatency(ctx context.Context, stage string, d time.Duration) {
	switch stage {
	case "stt":
		m.STTDuration.Record(ctx, d.Seconds())
	case "mt":
		m.MTDuration.Record(ctx, d.Seconds())
	case "tts":
		m.TTSDuration.Record(ctx, d.Seconds())
	}
}

// RecordDisconnect records a forced disconnect with its close reason.
func (m *Metrics) RecordDisconnect(ctx context.Context, reason string) {
	m.Disconnects.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
