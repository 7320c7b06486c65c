package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys shared by session spans and logs.
const (
	AttrSessionID = attribute.Key("asrlink.session_id")
	AttrRecordID  = attribute.Key("asrlink.record_id")
)

// Tracer returns the asrlink tracer of the global provider. It is looked up
// on every call so a provider installed later by InitProvider takes effect.
func Tracer() trace.Tracer {
	return otel.Tracer("github.com/MrWong99/asrlink")
}

// StartSpan starts a span on [Tracer]. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// SessionAttrs tags a span with the session and record it belongs to.
func SessionAttrs(sessionID, recordID string) trace.SpanStartEventOption {
	return trace.WithAttributes(AttrSessionID.String(sessionID), AttrRecordID.String(recordID))
}

// FailSpan records err on span and marks it failed with desc.
func FailSpan(span trace.Span, err error, desc string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, desc)
}

// TraceID returns the hex trace ID carried by ctx, or "".
func TraceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns slog.Default, tagged with trace_id and span_id when ctx
// carries a span.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With("trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
}
