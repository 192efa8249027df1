package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the pingquest tracer.
const tracerName = "github.com/MrWong99/pingquest"

// Span attribute keys shared by turn spans and log lines.
const (
	AttrLevel     = attribute.Key("level")
	AttrNode      = attribute.Key("node")
	AttrTurnIndex = attribute.Key("turn_index")
	AttrSessionID = attribute.Key("session_id")
)

type sessionIDKey struct{}

// Tracer returns the package-level [trace.Tracer] for pingquest. It uses the
// globally registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartTurnSpan starts the "turn.Turn" span for one attempt at node. The span
// carries the level, node and turn index, plus the session id when ctx has
// one.
func StartTurnSpan(ctx context.Context, level, node string, turnIndex int) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		AttrLevel.String(level),
		AttrNode.String(node),
		AttrTurnIndex.Int(turnIndex),
	}
	if id := SessionID(ctx); id != "" {
		attrs = append(attrs, AttrSessionID.String(id))
	}
	return StartSpan(ctx, "turn.Turn", trace.WithAttributes(attrs...))
}

// WithSessionID returns a copy of ctx carrying the learner session id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// SessionID returns the session id stored by [WithSessionID], or "".
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}

// CorrelationID extracts the trace ID from the OTel span context in ctx.
// Returns the empty string when no active span with a valid trace ID exists.
// The HTTP middleware returns it as the X-Correlation-ID header.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default [slog.Logger] enriched with what ctx knows about
// the request: session_id when set, and trace_id and span_id when a span is
// active.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := SessionID(ctx); id != "" {
		l = l.With(slog.String(string(AttrSessionID), id))
	}
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
