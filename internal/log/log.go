// Package log is the gateway's structured logger: a context-first interface
// over log/slog that adds trace ids, stacks for severe records and a
// readable rendering of wrapped error chains.
package log

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/jspheredev/jsphere-gateway/internal/xerrors"
)

type Logger interface {
	With(kv ...any) Logger

	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)

	Sync() error
}

type Options struct {
	App     string
	Version string
	Commit  string
	BuildId string

	Level slog.Level
	// StacktraceLevel is the lowest level that carries a stack. Default error.
	StacktraceLevel slog.Level
	JsonFormat      bool

	// IncludeErrorLinks adds error_links, one entry per wrap site.
	IncludeErrorLinks bool
	MaxErrorLinks     int

	// Writer defaults to stdout.
	Writer io.Writer
}

func New(opts Options) (Logger, error) { return newSlog(opts) }

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ParseLevel accepts debug, info, warn (or warning) and error, in any case.
func ParseLevel(s string) (slog.Level, error) {
	if lvl, ok := levels[strings.ToLower(strings.TrimSpace(s))]; ok {
		return lvl, nil
	}
	return 0, xerrors.Newf("unknown log level %q (valid levels are debug|info|warn|error)", s)
}
