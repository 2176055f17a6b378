package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "villa-auth"

// Options configures a logger built by New.
type Options struct {
	Writer io.Writer
	Level  slog.Level
	// Service is the OTel instrumentation scope. Empty disables the OTel bridge.
	Service string
}

// Init builds the process logger from LOG_LEVEL and installs it as the slog
// default and as GlobalContext.
func Init(enableOTel bool) *slog.Logger {
	opts := Options{Writer: os.Stdout, Level: ParseLevel(os.Getenv("LOG_LEVEL"))}
	if enableOTel {
		opts.Service = serviceName
	}

	logger := New(opts)
	slog.SetDefault(logger)
	GlobalContext = NewContextLogger(logger)
	return logger
}

// New builds a JSON logger. Records logged with a context carry its trace ids
// and the visitor and identity attributes set by the HTTP layer, so usecase
// code can log with InfoContext and still be correlated to a browser.
func New(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}

	var handler slog.Handler = NewTraceContextHandler(
		slog.NewJSONHandler(w, &slog.HandlerOptions{Level: opts.Level}),
	)
	if opts.Service != "" {
		handler = fanout{handler, newOTelBridge(opts.Service, opts.Level)}
	}
	return slog.New(&authContextHandler{next: handler})
}

// ParseLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// authContextHandler stamps the context keys of context_logger.go onto each
// record unless the logger or the record already carries them.
type authContextHandler struct {
	next  slog.Handler
	bound map[string]bool
}

func (h *authContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *authContextHandler) Handle(ctx context.Context, r slog.Record) error {
	var present map[string]bool
	r.Attrs(func(a slog.Attr) bool {
		if present == nil {
			present = make(map[string]bool)
		}
		present[a.Key] = true
		return true
	})

	var extra []slog.Attr
	for _, key := range contextKeys {
		k := string(key)
		if h.bound[k] || present[k] {
			continue
		}
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			extra = append(extra, slog.String(k, v))
		}
	}
	if len(extra) > 0 {
		r = r.Clone()
		r.AddAttrs(extra...)
	}
	return h.next.Handle(ctx, r)
}

func (h *authContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	bound := make(map[string]bool, len(h.bound)+len(attrs))
	for k := range h.bound {
		bound[k] = true
	}
	for _, a := range attrs {
		bound[a.Key] = true
	}
	return &authContextHandler{next: h.next.WithAttrs(attrs), bound: bound}
}

func (h *authContextHandler) WithGroup(name string) slog.Handler {
	return &authContextHandler{next: h.next.WithGroup(name), bound: h.bound}
}

// otelBridge exports records through the global OTel logger provider.
type otelBridge struct {
	logger log.Logger
	attrs  []slog.Attr
	groups []string
	level  slog.Level
}

func newOTelBridge(scope string, level slog.Level) *otelBridge {
	return &otelBridge{
		logger: global.GetLoggerProvider().Logger(scope),
		level:  level,
	}
}

func (h *otelBridge) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *otelBridge) Handle(ctx context.Context, r slog.Record) error {
	rec := log.Record{}
	rec.SetTimestamp(r.Time)
	rec.SetBody(log.StringValue(r.Message))
	rec.SetSeverity(otelSeverity(r.Level))
	rec.SetSeverityText(r.Level.String())

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		rec.AddAttributes(
			log.String("trace_id", sc.TraceID().String()),
			log.String("span_id", sc.SpanID().String()),
		)
	}

	for _, attr := range h.attrs {
		rec.AddAttributes(otelKeyValue(h.groups, attr))
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.AddAttributes(otelKeyValue(h.groups, a))
		return true
	})

	h.logger.Emit(ctx, rec)
	return nil
}

func (h *otelBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(h.attrs[:len(h.attrs):len(h.attrs)], attrs...)
	return &next
}

func (h *otelBridge) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.groups = append(h.groups[:len(h.groups):len(h.groups)], name)
	return &next
}

func otelSeverity(level slog.Level) log.Severity {
	switch {
	case level >= slog.LevelError:
		return log.SeverityError
	case level >= slog.LevelWarn:
		return log.SeverityWarn
	case level >= slog.LevelInfo:
		return log.SeverityInfo
	default:
		return log.SeverityDebug
	}
}

func otelKeyValue(groups []string, a slog.Attr) log.KeyValue {
	key := a.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}

	switch a.Value.Kind() {
	case slog.KindString:
		return log.String(key, a.Value.String())
	case slog.KindInt64:
		return log.Int64(key, a.Value.Int64())
	case slog.KindFloat64:
		return log.Float64(key, a.Value.Float64())
	case slog.KindBool:
		return log.Bool(key, a.Value.Bool())
	default:
		return log.String(key, a.Value.String())
	}
}

// fanout hands each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			_ = h.Handle(ctx, r.Clone())
		}
	}
	return nil
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(fanout, len(f))
	for i, h := range f {
		next[i] = h.WithAttrs(attrs)
	}
	return next
}

func (f fanout) WithGroup(name string) slog.Handler {
	next := make(fanout, len(f))
	for i, h := range f {
		next[i] = h.WithGroup(name)
	}
	return next
}
