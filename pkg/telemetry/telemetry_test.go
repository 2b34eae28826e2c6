package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), "miniagent-test", "v0.0.1", Config{})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestInitStdout(t *testing.T) {
	shutdown, err := Init(context.Background(), "miniagent-test", "v0.0.1", Config{Enabled: true, Exporter: "stdout"})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestInitRejectsUnknownExporter(t *testing.T) {
	if _, err := Init(context.Background(), "svc", "v", Config{Enabled: true, Exporter: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
	if _, err := Init(context.Background(), "svc", "v", Config{Enabled: true, Exporter: "otlp"}); err == nil {
		t.Fatal("expected error for otlp without endpoint")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoggerAddsTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "info", "json")

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	logger.InfoContext(ctx, "task.turn.start", "task_id", "task-1")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if record["trace_id"] != traceID.String() || record["span_id"] != spanID.String() {
		t.Errorf("trace ids missing: %v", record)
	}
}

func TestLoggerWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "debug", "text")
	logger.Debug("skill.invoke.start")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("unexpected trace_id in %q", buf.String())
	}
}

func TestLeveledLoggerFollowsLevelVar(t *testing.T) {
	var buf bytes.Buffer
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	logger := NewLeveledLogger(&buf, level, "text")

	logger.Info("hidden")
	level.Set(slog.LevelDebug)
	logger.Debug("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("unexpected output %q", out)
	}
}
