package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Logger is the structured logger passed through the preview server and
// previewctl. Methods take the context of the page view so records carry its
// trace and span ids.
type Logger interface {
	With(kv ...any) Logger

	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)

	Sync() error
}

type Options struct {
	// App, Version, Commit and BuildId are attached to every record when set
	App     string
	Version string
	Commit  string
	BuildId string

	Level slog.Level
	// StacktraceLevel is the lowest level that gets a stack attr, zero means error
	StacktraceLevel slog.Level
	JsonFormat      bool

	MaxErrorLinks     int
	IncludeErrorLinks bool

	// Writer defaults to stdout
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

// ParseLevel accepts debug|info|warn|error in any case; warning is an alias for warn.
func ParseLevel(s string) (slog.Level, error) {
	if lvl, ok := levels[strings.ToLower(strings.TrimSpace(s))]; ok {
		return lvl, nil
	}
	return 0, fmt.Errorf("unknown log level %q (valid levels are debug|info|warn|error)", s)
}
