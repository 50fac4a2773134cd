package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func spanContext(t *testing.T) trace.SpanContext {
	t.Helper()
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	return trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
}

func TestLoggerAddsTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo).With("component", "test")

	ctx := trace.ContextWithSpanContext(context.Background(), spanContext(t))
	logger.InfoContext(ctx, "traced")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if line["trace_id"] != "4bf92f3577b34da6a3ce929d0e0e4736" || line["span_id"] != "00f067aa0ba902b7" {
		t.Fatalf("missing trace ids: %v", line)
	}
	if line["component"] != "test" {
		t.Fatalf("attrs lost through wrapper: %v", line)
	}

	buf.Reset()
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug should be filtered at info level: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug, "WARN": slog.LevelWarn, "error": slog.LevelError, "": slog.LevelInfo, "chatty": slog.LevelInfo,
	} {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestDetachTraceContextFrom(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	req, reqCancel := context.WithCancel(trace.ContextWithSpanContext(context.Background(), spanContext(t)))

	detached := DetachTraceContextFrom(req, base)
	reqCancel()
	if detached.Err() != nil {
		t.Fatal("detached context must not follow the request's cancellation")
	}
	if got := trace.SpanContextFromContext(detached); got.TraceID() != spanContext(t).TraceID() {
		t.Fatal("trace id not carried over")
	}
	cancel()
	if detached.Err() == nil {
		t.Fatal("detached context must follow base cancellation")
	}

	if got := DetachTraceContextFrom(context.Background(), base); got != base {
		t.Fatal("untraced source should return base unchanged")
	}
}

func TestInitTracerDisabled(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "", "recovery-room", "test")
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
