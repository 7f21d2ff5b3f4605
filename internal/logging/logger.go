// Package logging provides the structured JSON logger shared by every
// StormStack subsystem: the container service, the game loop, the WebSocket
// gateway, and the sandbox all log through a *Logger rather than reaching
// for the standard library's log package directly.
package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"stormstack/platform/internal/config"
)

// TraceIDHeader is the HTTP header used to propagate a request's trace ID.
const TraceIDHeader = "X-Trace-ID"

// TraceIDField is the structured logging field name carrying the trace ID.
const TraceIDField = "trace_id"

type contextKey string

var (
	loggerContextKey = contextKey("stormstack-logger")
	traceContextKey  = contextKey("stormstack-trace-id")

	globalMu     sync.RWMutex
	globalLogger = newDiscardLogger()
)

// Level orders log verbosity from most to least chatty.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	case FatalLevel:
		return "fatal"
	default:
		return "info"
	}
}

func parseLevel(raw string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("logging: unknown level %q", raw)
	}
}

// Field is one structured logging attribute.
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field       { return Field{Key: key, Value: value} }
func Strings(key string, v []string) Field { return Field{Key: key, Value: v} }
func Int(key string, value int) Field      { return Field{Key: key, Value: value} }
func Int64(key string, value int64) Field  { return Field{Key: key, Value: value} }
func Uint64(key string, value uint64) Field { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field    { return Field{Key: key, Value: value} }
func Duration(key string, d time.Duration) Field { return Field{Key: key, Value: d.String()} }
func Err(err error) Field                  { return Field{Key: "error", Value: err} }

// syncWriter is a writer that can flush to durable storage.
type syncWriter interface {
	Write(p []byte) (int, error)
	Sync() error
}

// fanoutWriter mirrors every log line to multiple sync writers (disk and
// stdout), matching the teacher's dual-destination logging setup.
type fanoutWriter struct {
	targets []syncWriter
}

func (f *fanoutWriter) Write(p []byte) (int, error) {
	for _, target := range f.targets {
		if _, err := target.Write(p); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (f *fanoutWriter) Sync() error {
	var first error
	for _, target := range f.targets {
		if err := target.Sync(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Logger emits JSON-formatted structured logs with inherited contextual fields.
type Logger struct {
	mu     sync.Mutex
	level  Level
	writer syncWriter
	fields map[string]any
}

// New constructs a logger configured with on-disk rotation plus stdout mirroring.
func New(cfg config.LoggingConfig) (*Logger, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("logging: path must be specified")
	}
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	writer, err := newRotatingFile(cfg)
	if err != nil {
		return nil, err
	}
	fanout := &fanoutWriter{targets: []syncWriter{writer}}
	if os.Stdout != nil {
		fanout.targets = append(fanout.targets, stdoutSyncWriter{})
	}
	logger := &Logger{
		level:  level,
		writer: fanout,
		fields: map[string]any{"service": "stormstackd"},
	}
	ReplaceGlobals(logger)
	return logger, nil
}

// NewTestLogger returns a logger that discards all output, for use in tests.
func NewTestLogger() *Logger { return newDiscardLogger() }

func newDiscardLogger() *Logger {
	return &Logger{level: DebugLevel, writer: discardWriter{}, fields: map[string]any{}}
}

// ReplaceGlobals swaps the fallback logger used when no context logger is present.
func ReplaceGlobals(logger *Logger) {
	if logger == nil {
		return
	}
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// L returns the current global logger.
func L() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Named returns a child logger tagged with a "component" field, mirroring
// how each subsystem (gameloop, wsgateway, sandbox, ...) identifies itself.
func (l *Logger) Named(component string) *Logger {
	return l.With(String("component", component))
}

// With augments the logger with additional structured fields, returning a
// new logger so the parent is never mutated underneath concurrent callers.
func (l *Logger) With(fields ...Field) *Logger {
	if l == nil {
		return L().With(fields...)
	}
	clone := &Logger{
		level:  l.level,
		writer: l.writer,
		fields: make(map[string]any, len(l.fields)+len(fields)),
	}
	for k, v := range l.fields {
		clone.fields[k] = v
	}
	for _, f := range fields {
		clone.fields[f.Key] = f.Value
	}
	return clone
}

// Sync flushes buffered output to durable storage.
func (l *Logger) Sync() error {
	if l == nil || l.writer == nil {
		return nil
	}
	return l.writer.Sync()
}

func (l *Logger) Debug(message string, fields ...Field) { l.emit(DebugLevel, message, fields...) }
func (l *Logger) Info(message string, fields ...Field)  { l.emit(InfoLevel, message, fields...) }
func (l *Logger) Warn(message string, fields ...Field)  { l.emit(WarnLevel, message, fields...) }
func (l *Logger) Error(message string, fields ...Field) { l.emit(ErrorLevel, message, fields...) }
func (l *Logger) Fatal(message string, fields ...Field) { l.emit(FatalLevel, message, fields...) }

func (l *Logger) emit(level Level, message string, fields ...Field) {
	if l == nil {
		L().emit(level, message, fields...)
		return
	}
	if level < l.level {
		return
	}
	payload := make(map[string]any, len(l.fields)+len(fields)+3)
	for k, v := range l.fields {
		payload[k] = v
	}
	payload["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	payload["level"] = level.String()
	payload["message"] = message
	for _, f := range fields {
		if err, ok := f.Value.(error); ok {
			payload[f.Key] = err.Error()
			continue
		}
		payload[f.Key] = f.Value
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	l.mu.Lock()
	_, _ = l.writer.Write(append(data, '\n'))
	l.mu.Unlock()
	if level == FatalLevel {
		_ = l.writer.Sync()
		os.Exit(1)
	}
}

// ContextWithLogger stores a logger in the provided context.
func ContextWithLogger(ctx context.Context, logger *Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// FromContext retrieves a logger from context, falling back to the global logger.
func FromContext(ctx context.Context) *Logger {
	if ctx == nil {
		return L()
	}
	if logger, ok := ctx.Value(loggerContextKey).(*Logger); ok && logger != nil {
		return logger
	}
	return L()
}

// ContextWithTraceID stores a trace identifier in the context.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, traceContextKey, traceID)
}

// TraceIDFromContext extracts a trace identifier from the context.
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(traceContextKey).(string); ok {
		return traceID
	}
	return ""
}

// GenerateTraceID creates a random 16-byte trace identifier as hex.
func GenerateTraceID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err == nil {
		return hex.EncodeToString(buf[:])
	}
	return fmt.Sprintf("%x", time.Now().UnixNano())
}

// WithTrace enriches ctx with a trace ID (generating one if absent) and
// returns the derived logger alongside it.
func WithTrace(ctx context.Context, base *Logger, traceID string) (context.Context, *Logger, string) {
	tid := strings.TrimSpace(traceID)
	if tid == "" {
		tid = GenerateTraceID()
	}
	if base == nil {
		base = L()
	}
	derived := base.With(Field{Key: TraceIDField, Value: tid})
	ctx = ContextWithTraceID(ctx, tid)
	ctx = ContextWithLogger(ctx, derived)
	return ctx, derived, tid
}

// HTTPTraceMiddleware ensures every request carries a trace ID through
// context and response headers.
func HTTPTraceMiddleware(base *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			incoming := strings.TrimSpace(r.Header.Get(TraceIDHeader))
			ctx, logger, traceID := WithTrace(r.Context(), base, incoming)
			r = r.WithContext(ctx)
			w.Header().Set(TraceIDHeader, traceID)
			logger.Debug("request received", String("method", r.Method), String("path", r.URL.Path))
			next.ServeHTTP(w, r)
		})
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
func (discardWriter) Sync() error                 { return nil }

type stdoutSyncWriter struct{}

func (stdoutSyncWriter) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdoutSyncWriter) Sync() error                 { return os.Stdout.Sync() }
