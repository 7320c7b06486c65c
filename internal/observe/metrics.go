// Package observe provides OpenTelemetry metrics and tracing for asrlink,
// a trace-aware logger, and the HTTP middleware used by the side server.
//
// Instruments are created through the OpenTelemetry Metrics API. [InitProvider]
// installs a Prometheus exporter so they can be scraped from /metrics. Tests
// should build their own [Metrics] with [NewMetrics] and a
// [sdkmetric.ManualReader]-backed provider instead of using [DefaultMetrics].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all asrlink metrics.
const meterName = "github.com/MrWong99/asrlink"

// Drop reasons recorded on [Metrics.ChunksDropped].
const (
	DropNotOpen    = "not_open"
	DropSendFailed = "send_failed"
	DropEncode     = "encode"
)

// Metrics holds the metric instruments for the application. The underlying
// OTel types are safe for concurrent use.
type Metrics struct {
	// ChunksSent counts recording messages written to the transport.
	ChunksSent metric.Int64Counter

	// ChunksDropped counts frames that were not delivered. Use with
	// attribute.String("reason", ...).
	ChunksDropped metric.Int64Counter

	// FramesOverrun counts frames dropped on the audio thread because the
	// frame queue was full.
	FramesOverrun metric.Int64Counter

	// TransportReconnects counts scheduled reconnect attempts.
	TransportReconnects metric.Int64Counter

	// TransportExhausted counts transports that gave up reconnecting.
	TransportExhausted metric.Int64Counter

	// TransportErrors counts non-fatal transport errors.
	TransportErrors metric.Int64Counter

	// ProtocolEvents counts inbound service events. Use with
	// attribute.String("event", ...).
	ProtocolEvents metric.Int64Counter

	// ActiveSessions tracks the number of live recognition sessions.
	ActiveSessions metric.Int64UpDownCounter

	// SessionDuration tracks the lifetime of a session from start to teardown.
	SessionDuration metric.Float64Histogram

	// CaptureStartDuration tracks how long device resolution and stream
	// opening took.
	CaptureStartDuration metric.Float64Histogram

	// HTTPRequestDuration tracks side server request latency. Use with
	// attribute.String("method", ...) and attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries in seconds for short
// operations such as opening a capture stream.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// sessionBuckets covers session lifetimes from seconds up to an hour.
var sessionBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600,
}

// NewMetrics creates every instrument using the given [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ChunksSent, "asrlink.chunks.sent", "Recording messages written to the transport."},
		{&met.ChunksDropped, "asrlink.chunks.dropped", "Audio frames not delivered to the service, by reason."},
		{&met.FramesOverrun, "asrlink.frames.overrun", "Frames dropped on the audio thread because the queue was full."},
		{&met.TransportReconnects, "asrlink.transport.reconnects", "Reconnect attempts scheduled after an unexpected close."},
		{&met.TransportExhausted, "asrlink.transport.exhausted", "Transports that exhausted their reconnect budget."},
		{&met.TransportErrors, "asrlink.transport.errors", "Non-fatal transport errors."},
		{&met.ProtocolEvents, "asrlink.protocol.events", "Inbound service events by event tag."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("asrlink.sessions.active",
		metric.WithDescription("Number of live recognition sessions."),
	); err != nil {
		return nil, err
	}

	if met.SessionDuration, err = m.Float64Histogram("asrlink.session.duration",
		metric.WithDescription("Lifetime of a recognition session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CaptureStartDuration, err = m.Float64Histogram("asrlink.capture.start.duration",
		metric.WithDescription("Latency of acquiring the input device and opening the stream."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("asrlink.http.request.duration",
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
// first call from [otel.GetMeterProvider]. Call it after [InitProvider] so the
// instruments bind to the exporting provider.
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

// Attr is a shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordDrop increments [Metrics.ChunksDropped] for reason.
func (m *Metrics) RecordDrop(ctx context.Context, reason string, n int64) {
	if n <= 0 {
		return
	}
	m.ChunksDropped.Add(ctx, n, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordProtocolEvent increments [Metrics.ProtocolEvents] for event.
func (m *Metrics) RecordProtocolEvent(ctx context.Context, event string) {
	m.ProtocolEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// RecordSessionEnd decrements the active session gauge and records the
// session lifetime. outcome is one of "done", "terminated", "error",
// "timeout" or "replaced".
func (m *Metrics) RecordSessionEnd(ctx context.Context, started time.Time, outcome string) {
	m.ActiveSessions.Add(ctx, -1)
	m.SessionDuration.Record(ctx, time.Since(started).Seconds(),
		metric.WithAttributes(attribute.String("outcome", outcome)))
}
