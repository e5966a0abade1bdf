package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ContentInfo describes what a preview response carries.
type ContentInfo interface {
	ContentStatus() string
	ContentID() string
}

// ContentHeaders adds X-Preview-Status and, when an article was shown,
// X-Preview-Article to the response and tags the request span with both.
// It must run before the handler writes the status line.
func ContentHeaders(w http.ResponseWriter, r *http.Request, info ContentInfo) {
	if info == nil {
		return
	}
	status, id := info.ContentStatus(), info.ContentID()
	if status != "" {
		w.Header().Set("X-Preview-Status", status)
	}
	if id != "" {
		w.Header().Set("X-Preview-Article", id)
	}
	if span := trace.SpanFromContext(r.Context()); span.IsRecording() {
		if status != "" {
			span.SetAttributes(attribute.String("preview.status", status))
		}
		if id != "" {
			span.SetAttributes(attribute.String("preview.article_id", id))
		}
	}
}
