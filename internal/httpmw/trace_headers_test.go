package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func sampledContext(sampled bool) context.Context {
	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	cfg := trace.SpanContextConfig{TraceID: traceID, SpanID: spanID}
	if sampled {
		cfg.TraceFlags = trace.FlagsSampled
	}
	return trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(cfg))
}

func TestTraceResponseHeaders(t *testing.T) {
	mw := TraceResponseHeaders("", "")

	rec := httptest.NewRecorder()
	mw(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody).WithContext(sampledContext(true)))
	if rec.Header().Get("X-Trace-Id") != "0102030405060708090a0b0c0d0e0f10" || rec.Header().Get("X-Span-Id") != "0102030405060708" {
		t.Fatalf("headers = %v", rec.Header())
	}

	rec = httptest.NewRecorder()
	mw(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody).WithContext(sampledContext(false)))
	if rec.Header().Get("X-Trace-Id") != "" {
		t.Fatal("unsampled trace should not be echoed")
	}
}
