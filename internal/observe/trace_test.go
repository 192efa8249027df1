package observe

import (
	"bytes"
	"context"
	"log/slog"
	"regexp"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// ─── helpers ──────────────────────────────────────────────────────────────────

// useTestTracer installs an in-memory tracer provider as the global one for
// the duration of the test.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLog points the default slog logger at a buffer.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func attrMap(kvs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value, len(kvs))
	for _, kv := range kvs {
		m[kv.Key] = kv.Value
	}
	return m
}

// ─── spans ────────────────────────────────────────────────────────────────────

func TestStartTurnSpan_Attributes(t *testing.T) {
	exp := useTestTracer(t)

	ctx := WithSessionID(context.Background(), "sess-1")
	_, span := StartTurnSpan(ctx, "island", "gate", 3)
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "turn.Turn" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	got := attrMap(spans[0].Attributes)
	if got[AttrLevel].AsString() != "island" || got[AttrNode].AsString() != "gate" {
		t.Errorf("attributes = %v", spans[0].Attributes)
	}
	if got[AttrTurnIndex].AsInt64() != 3 {
		t.Errorf("turn_index = %v, want 3", got[AttrTurnIndex])
	}
	if got[AttrSessionID].AsString() != "sess-1" {
		t.Errorf("session_id = %v, want sess-1", got[AttrSessionID])
	}
}

func TestStartTurnSpan_WithoutSession(t *testing.T) {
	exp := useTestTracer(t)

	_, span := StartTurnSpan(context.Background(), "island", "start", 0)
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if _, ok := attrMap(spans[0].Attributes)[AttrSessionID]; ok {
		t.Errorf("session_id set without a session: %v", spans[0].Attributes)
	}
}

func TestCorrelationID(t *testing.T) {
	useTestTracer(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	ctx, span := StartSpan(context.Background(), "turn.Start")
	defer span.End()
	if cid := CorrelationID(ctx); !regexp.MustCompile(`^[0-9a-f]{32}$`).MatchString(cid) {
		t.Errorf("CorrelationID = %q, want 32 hex chars", cid)
	}

	_, other := StartSpan(context.Background(), "turn.Start")
	defer other.End()
	if other.SpanContext().TraceID().String() == CorrelationID(ctx) {
		t.Error("two root spans share a correlation id")
	}
}

// ─── context ──────────────────────────────────────────────────────────────────

func TestSessionID(t *testing.T) {
	t.Parallel()

	if got := SessionID(context.Background()); got != "" {
		t.Errorf("SessionID(background) = %q", got)
	}
	ctx := WithSessionID(context.Background(), "a")
	if got := SessionID(WithSessionID(ctx, "b")); got != "b" {
		t.Errorf("SessionID = %q, want the innermost id", got)
	}
	if got := SessionID(ctx); got != "a" {
		t.Errorf("SessionID(parent) = %q, want a", got)
	}
}

// ─── logging ──────────────────────────────────────────────────────────────────

func TestLogger(t *testing.T) {
	useTestTracer(t)

	spanCtx, span := StartSpan(context.Background(), "turn.Turn")
	defer span.End()

	tests := []struct {
		name    string
		ctx     context.Context
		want    []string
		notWant []string
	}{
		{
			name:    "bare context",
			ctx:     context.Background(),
			notWant: []string{"session_id=", "trace_id=", "span_id="},
		},
		{
			name:    "session only",
			ctx:     WithSessionID(context.Background(), "sess-7"),
			want:    []string{"session_id=sess-7"},
			notWant: []string{"trace_id="},
		},
		{
			name: "session and span",
			ctx:  WithSessionID(spanCtx, "sess-7"),
			want: []string{"session_id=sess-7", "trace_id=" + CorrelationID(spanCtx), "span_id="},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLog(t)
			Logger(tt.ctx).Info("turn finished")
			line := buf.String()
			for _, w := range tt.want {
				if !bytes.Contains(buf.Bytes(), []byte(w)) {
					t.Errorf("log %q missing %q", line, w)
				}
			}
			for _, w := range tt.notWant {
				if bytes.Contains(buf.Bytes(), []byte(w)) {
					t.Errorf("log %q should not contain %q", line, w)
				}
			}
		})
	}
}
