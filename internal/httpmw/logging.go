package httpmw

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-preview/internal/log"
)

// statusWriter records the status code and body size, and opens a
// response.write span on the first write.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64

	ctx      context.Context
	start    time.Time
	span     trace.Span
	spanDone bool
	blocked  time.Duration
	writeErr error
}

func (sw *statusWriter) startSpan() {
	if sw.spanDone {
		return
	}
	sw.spanDone = true
	if !trace.SpanFromContext(sw.ctx).IsRecording() {
		return
	}
	_, sw.span = otel.Tracer("linnemanlabs-preview/httpmw").Start(sw.ctx, "response.write",
		trace.WithAttributes(attribute.Float64("http.server.ttfb_seconds", time.Since(sw.start).Seconds())))
}

func (sw *statusWriter) endSpan() {
	if sw.span == nil {
		return
	}
	sw.span.SetAttributes(
		attribute.Int("http.response.status_code", sw.code()),
		attribute.Int64("http.response.body.size", sw.bytes),
		attribute.Float64("http.server.write.block_seconds", sw.blocked.Seconds()),
	)
	if sw.writeErr != nil {
		sw.span.RecordError(sw.writeErr)
		sw.span.SetStatus(codes.Error, sw.writeErr.Error())
	}
	sw.span.End()
}

func (sw *statusWriter) code() int {
	if sw.status == 0 {
		return http.StatusOK
	}
	return sw.status
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.startSpan()
	if sw.status == 0 {
		sw.status = code
	}
	t := time.Now()
	sw.ResponseWriter.WriteHeader(code)
	sw.blocked += time.Since(t)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.startSpan()
	if sw.status == 0 {
		sw.status = http.StatusOK
	}
	t := time.Now()
	n, err := sw.ResponseWriter.Write(b)
	sw.blocked += time.Since(t)
	sw.bytes += int64(n)
	if err != nil && sw.writeErr == nil {
		sw.writeErr = err
	}
	return n, err
}

func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sw *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("underlying ResponseWriter does not implement http.Hijacker")
	}
	return h.Hijack()
}

func (sw *statusWriter) Unwrap() http.ResponseWriter { return sw.ResponseWriter }

// WithLogger stores a request-scoped logger in the context. The query string
// is logged as seen here, so SealQuery must run first for secrets.
func WithLogger(base log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			reqID := RequestIDFromContext(ctx)
			client := ClientIPFromContext(ctx)
			peer := r.RemoteAddr
			if h, _, err := net.SplitHostPort(peer); err == nil {
				peer = h
			}
			scheme := schemeFromRequest(r)

			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(
					attribute.String("request_id", reqID),
					attribute.String("client.address", client),
					attribute.String("network.peer.address", peer),
					attribute.String("url.scheme", scheme),
				)
			}

			fields := []any{
				"request_id", reqID,
				"client.address", client,
				"network.peer.address", peer,
				"server.address", r.Host,
				"http.request.method", r.Method,
				"url.path", r.URL.Path,
				"url.scheme", scheme,
			}
			if r.URL.RawQuery != "" {
				fields = append(fields, "url.query", r.URL.RawQuery)
			}

			L := base.With(fields...)
			next.ServeHTTP(w, r.WithContext(log.WithContext(ctx, L)))
		})
	}
}

// AccessLog writes one line per request through the request logger.
// Static assets and health probes are skipped.
func AccessLog() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, ctx: r.Context(), start: start}

			next.ServeHTTP(sw, r)
			sw.endSpan()

			if skipAccessLog(r.URL.Path) {
				return
			}
			ctx := r.Context()
			route := r.URL.Path
			if rc := chi.RouteContext(ctx); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}

			log.FromContext(ctx).Info(ctx, "http request",
				"http.response.status_code", sw.code(),
				"http.server.request.duration", time.Since(start).Seconds(),
				"http.response.body.size", sw.bytes,
				"http.route", route,
			)
		})
	}
}

func skipAccessLog(p string) bool {
	switch p {
	case "/-/healthy", "/-/ready", "/favicon.ico":
		return true
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".css", ".js", ".svg", ".png", ".ico", ".woff2", ".map":
		return true
	}
	return false
}

func schemeFromRequest(r *http.Request) string {
	// X-Forwarded-Proto survives only from trusted proxies, ClientIP strips it otherwise
	if xf := r.Header.Get("X-Forwarded-Proto"); xf != "" {
		s := strings.ToLower(strings.TrimSpace(strings.Split(xf, ",")[0]))
		if s == "http" || s == "https" {
			return s
		}
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// Scope tags the request logger and span with a handler name.
func Scope(handler string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ctx = log.WithContext(ctx, log.FromContext(ctx).With("handler", handler))
			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(attribute.String("app.handler", handler))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
