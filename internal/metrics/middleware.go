package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// recordingWriter captures status, bytes written and when the first byte
// (or header) left the handler.
type recordingWriter struct {
	http.ResponseWriter
	status    int
	n         int
	firstByte time.Time
}

func (w *recordingWriter) mark(code int) {
	if w.status == 0 {
		w.status = code
		w.firstByte = time.Now()
	}
}

func (w *recordingWriter) WriteHeader(code int) {
	w.mark(code)
	w.ResponseWriter.WriteHeader(code)
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.mark(http.StatusOK)
	n, err := w.ResponseWriter.Write(p)
	w.n += n
	return n, err
}

func (w *recordingWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware records inflight, count, latency, time to first byte and size
// per route pattern. Preview page views spend most of their latency waiting
// for the content API before the first byte, so ttfb tracks the render wait.
// It seeds a chi route context so the router below fills in the pattern.
func (m *ServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if chi.RouteContext(r.Context()) == nil {
			r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, chi.NewRouteContext()))
		}

		m.inflight.Inc()
		defer m.inflight.Dec()

		rw := &recordingWriter{ResponseWriter: w}
		next.ServeHTTP(rw, r)
		end := time.Now()

		code := rw.status
		if code == 0 {
			code = http.StatusOK
			rw.firstByte = end
		}
		ctx := r.Context()
		route := chi.RouteContext(ctx).RoutePattern()
		if route == "" {
			route = "unmatched"
		}

		m.reqTotal.WithLabelValues(r.Method, route, strconv.Itoa(code)).Inc()
		if code >= 500 {
			m.errorsTotal.WithLabelValues(r.Method, route).Inc()
		}

		ex := traceExemplar(ctx)
		observe(m.reqDur.WithLabelValues(r.Method, route), end.Sub(start).Seconds(), ex)
		observe(m.ttfb.WithLabelValues(r.Method, route), rw.firstByte.Sub(start).Seconds(), ex)
		m.respBytes.WithLabelValues(r.Method, route).Observe(float64(rw.n))
	})
}

// observe attaches the exemplar when both the trace and the collector allow it.
func observe(obs prometheus.Observer, v float64, ex prometheus.Labels) {
	if eo, ok := obs.(prometheus.ExemplarObserver); ok && ex != nil {
		eo.ObserveWithExemplar(v, ex)
		return
	}
	obs.Observe(v)
}

// traceExemplar links a sampled trace to the latency observation.
func traceExemplar(ctx context.Context) prometheus.Labels {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || !sc.IsSampled() {
		return nil
	}
	return prometheus.Labels{"trace_id": sc.TraceID().String()}
}
