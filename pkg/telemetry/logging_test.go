// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestParseLogLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := parseLogLevel(tc.in); got != tc.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestTraceHandlerAddsSpanIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newSlogHandler(&buf, "info", "json"))

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	logger.InfoContext(ctx, "inside span")
	span.End()

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log record: %v", err)
	}
	if record["trace_id"] == nil || record["trace_id"] == "" {
		t.Error("expected trace_id attribute on record inside span")
	}
	if record["span_id"] == nil || record["span_id"] == "" {
		t.Error("expected span_id attribute on record inside span")
	}
}

func TestTraceHandlerNoSpan(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newSlogHandler(&buf, "info", "text"))
	logger.Info("outside span")

	out := buf.String()
	if strings.Contains(out, "trace_id") {
		t.Errorf("unexpected trace_id without active span: %s", out)
	}
}

func TestNewRunMetrics(t *testing.T) {
	m, err := NewRunMetrics()
	if err != nil {
		t.Fatalf("NewRunMetrics: %v", err)
	}
	// Smoke the recorders against the no-op global provider.
	ctx := context.Background()
	m.RecordRunStart(ctx, "refine-text", "collaboration")
	m.RecordTurn(ctx, "refine-text", "Writer")
	m.RecordContribution(ctx, "review-quality", "Critic", true)
}
