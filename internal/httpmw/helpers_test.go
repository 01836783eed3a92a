package httpmw

import (
	"context"
	"sync"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jspheredev/jsphere-gateway/internal/log"
)

type logLine struct {
	level string
	msg   string
	err   error
	kv    []any
}

func (l logLine) field(key string) (any, bool) {
	for i := 0; i+1 < len(l.kv); i += 2 {
		if l.kv[i] == key {
			return l.kv[i+1], true
		}
	}
	return nil, false
}

// memLogger keeps every line, with the fields added by With in front.
type memLogger struct {
	mu    *sync.Mutex
	lines *[]logLine
	with  []any
}

func newMemLogger() *memLogger {
	return &memLogger{mu: &sync.Mutex{}, lines: &[]logLine{}}
}

func (l *memLogger) With(kv ...any) log.Logger {
	with := append(append([]any(nil), l.with...), kv...)
	return &memLogger{mu: l.mu, lines: l.lines, with: with}
}

func (l *memLogger) add(level, msg string, err error, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.lines = append(*l.lines, logLine{level: level, msg: msg, err: err, kv: append(append([]any(nil), l.with...), kv...)})
}

func (l *memLogger) Debug(_ context.Context, msg string, kv ...any) { l.add("debug", msg, nil, kv) }
func (l *memLogger) Info(_ context.Context, msg string, kv ...any)  { l.add("info", msg, nil, kv) }
func (l *memLogger) Warn(_ context.Context, msg string, kv ...any)  { l.add("warn", msg, nil, kv) }
func (l *memLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	l.add("error", msg, err, kv)
}
func (l *memLogger) Sync() error { return nil }

func (l *memLogger) all() []logLine {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]logLine(nil), *l.lines...)
}

// newRecordingSpan starts a sampled span backed by an in-memory recorder.
func newRecordingSpan(t *testing.T, name string) (context.Context, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, _ := tp.Tracer("test").Start(context.Background(), name)
	return ctx, sr
}
