package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestContextLogger_WithContext_AuthKeys(t *testing.T) {
	var buf bytes.Buffer
	cl := NewContextLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	ctx := context.Background()
	ctx = WithVisitorID(ctx, "visitor-1")
	ctx = WithIdentityID(ctx, "user-1")
	ctx = WithRoute(ctx, "/admin")
	ctx = WithRequestID(ctx, "req-1")

	cl.WithContext(ctx).Info("test message")
	entry := decode(t, &buf)

	tests := []struct {
		key      string
		expected string
	}{
		{"visitor.id", "visitor-1"},
		{"identity.id", "user-1"},
		{"auth.route", "/admin"},
		{"request_id", "req-1"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.expected, entry[tt.key])
		})
	}
}

func TestContextLogger_WithContext_PartialKeys(t *testing.T) {
	var buf bytes.Buffer
	cl := NewContextLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	cl.WithContext(WithVisitorID(context.Background(), "visitor-only")).Info("test message")
	entry := decode(t, &buf)

	assert.Equal(t, "visitor-only", entry["visitor.id"])
	assert.NotContains(t, entry, "identity.id")
	assert.NotContains(t, entry, "auth.route")
}

func TestContextLogger_LogDurationAndError(t *testing.T) {
	var buf bytes.Buffer
	cl := NewContextLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	ctx := WithVisitorID(context.Background(), "visitor-timing")

	cl.LogDuration(ctx, "check_auth", 25)
	entry := decode(t, &buf)
	assert.Equal(t, "check_auth", entry["operation"])
	assert.Equal(t, float64(25), entry["duration_ms"])
	assert.Equal(t, "visitor-timing", entry["visitor.id"])

	buf.Reset()
	cl.LogError(ctx, "login", errors.New("provider down"))
	entry = decode(t, &buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "provider down", entry["error"])
}

func TestTraceContextHandler_AddsSpanIDs(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewTraceContextHandler(slog.NewJSONHandler(&buf, nil)))

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	l.InfoContext(ctx, "traced")
	entry := decode(t, &buf)
	assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), entry["span_id"])

	buf.Reset()
	l.Info("untraced")
	assert.NotContains(t, decode(t, &buf), "trace_id")
}

func TestNew_Level(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Writer: &buf, Level: ParseLevel("warn")})

	l.Info("hidden")
	assert.Zero(t, buf.Len())

	l.Warn("shown")
	assert.Equal(t, "shown", decode(t, &buf)["msg"])
}

func TestInit_InstallsDefault(t *testing.T) {
	prev, prevContext := slog.Default(), GlobalContext
	t.Cleanup(func() {
		slog.SetDefault(prev)
		GlobalContext = prevContext
	})

	l := Init(false)
	assert.Same(t, l, slog.Default())
	assert.Same(t, l, GlobalContext.WithContext(context.Background()))
}

func TestNew_StampsAuthContext(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Writer: &buf})
	ctx := WithIdentityID(WithVisitorID(context.Background(), "visitor-1"), "user-1")

	l.InfoContext(ctx, "checked", "identity.id", "user-2")
	entry := decode(t, &buf)
	assert.Equal(t, "visitor-1", entry["visitor.id"])
	assert.Equal(t, "user-2", entry["identity.id"], "record attributes win over context")

	buf.Reset()
	l.With("visitor.id", "bound").InfoContext(ctx, "bound")
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte(`"visitor.id"`)))
	assert.Equal(t, "bound", decode(t, &buf)["visitor.id"])

	buf.Reset()
	l.Info("no context")
	assert.NotContains(t, decode(t, &buf), "visitor.id")
}

func TestNew_OTelBridgeKeepsStdoutCopy(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Writer: &buf, Service: "villa-auth"}).With("service", "villa-auth")

	l.InfoContext(WithRoute(context.Background(), "/admin"), "bridged", "n", 1)
	entry := decode(t, &buf)
	assert.Equal(t, "villa-auth", entry["service"])
	assert.Equal(t, float64(1), entry["n"])
	assert.Equal(t, "/admin", entry["auth.route"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}
