package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

// TraceResponseHeaders sets the trace and span ids of a sampled request on
// the response, so an editor reporting a failed preview can hand over an id
// to look up. Empty names fall back to X-Trace-Id and X-Span-Id.
func TraceResponseHeaders(traceHeader, spanHeader string) func(http.Handler) http.Handler {
	traceHeader = firstNonEmpty(traceHeader, "X-Trace-Id")
	spanHeader = firstNonEmpty(spanHeader, "X-Span-Id")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sc := trace.SpanContextFromContext(r.Context())
			if sc.IsValid() && sc.IsSampled() {
				h := w.Header()
				h.Set(traceHeader, sc.TraceID().String())
				h.Set(spanHeader, sc.SpanID().String())
			}
			next.ServeHTTP(w, r)
		})
	}
}

func firstNonEmpty(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
