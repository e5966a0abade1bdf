package httpmw

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/keithlinneman/linnemanlabs-preview/internal/log"
)

type logEntry struct {
	level  string
	msg    string
	err    error
	fields []any
}

// captureLogger records every call; With returns a child sharing the sink.
type captureLogger struct {
	mu      *sync.Mutex
	entries *[]logEntry
	with    []any
}

func newCaptureLogger() *captureLogger {
	return &captureLogger{mu: &sync.Mutex{}, entries: &[]logEntry{}}
}

func (c *captureLogger) With(kv ...any) log.Logger {
	next := append(append([]any{}, c.with...), kv...)
	return &captureLogger{mu: c.mu, entries: c.entries, with: next}
}

func (c *captureLogger) add(level, msg string, err error, kv []any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fields := append(append([]any{}, c.with...), kv...)
	*c.entries = append(*c.entries, logEntry{level: level, msg: msg, err: err, fields: fields})
}

func (c *captureLogger) Debug(_ context.Context, msg string, kv ...any) { c.add("debug", msg, nil, kv) }
func (c *captureLogger) Info(_ context.Context, msg string, kv ...any)  { c.add("info", msg, nil, kv) }
func (c *captureLogger) Warn(_ context.Context, msg string, kv ...any)  { c.add("warn", msg, nil, kv) }
func (c *captureLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	c.add("error", msg, err, kv)
}
func (c *captureLogger) Sync() error { return nil }

func (c *captureLogger) all() []logEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]logEntry(nil), *c.entries...)
}

func (e logEntry) field(key string) (any, bool) {
	for i := 0; i+1 < len(e.fields); i += 2 {
		if e.fields[i] == key {
			return e.fields[i+1], true
		}
	}
	return nil, false
}

func (e logEntry) String() string { return fmt.Sprintf("%s %q %v", e.level, e.msg, e.fields) }

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})
