package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-preview/internal/health"
	"github.com/keithlinneman/linnemanlabs-preview/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-preview/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions
	Security     httpmw.SecurityOptions
	Health       health.Probe
	Readiness    health.Probe

	// SealedParams are query parameters hidden from tracing, metrics and
	// access logs. Defaults to "secret".
	SealedParams []string

	// APIRoutes registers the application routes
	APIRoutes func(r chi.Router)

	// SiteHandler serves everything unmatched (assets, 404, 405)
	SiteHandler http.Handler

	// WriteTimeout must exceed the longest page render wait
	WriteTimeout time.Duration
}
