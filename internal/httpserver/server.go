package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/linnemanlabs-preview/internal/health"
	"github.com/keithlinneman/linnemanlabs-preview/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-preview/internal/log"
	"github.com/keithlinneman/linnemanlabs-preview/internal/xerrors"
)

// NewHandler builds the preview router wrapped in the full middleware chain.
// The caller owns the *http.Server for graceful shutdown.
func NewHandler(opts *Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	sealed := opts.SealedParams
	if len(sealed) == 0 {
		sealed = []string{"secret"}
	}

	var recoverMW func(http.Handler) http.Handler
	if opts.UseRecoverMW {
		recoverMW = httpmw.Recover(opts.Logger, opts.OnPanic)
	}

	// outermost first; nil entries are skipped
	return httpmw.Chain(newRouter(opts),
		// on every response, including panics and rate limit rejections
		httpmw.SecurityHeaders(opts.Security),
		recoverMW,
		httpmw.RequestID("X-Request-Id"),
		// before the limiter so buckets are keyed by the resolved client
		httpmw.ClientIPWithOptions(opts.ClientIPOpts),
		// the preview secret leaves the URL before anything can record it
		httpmw.SealQuery(sealed...),
		opts.RateLimitMW,
		tracing,
		httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id"),
		opts.MetricsMW,
		httpmw.WithLogger(opts.Logger),
	)
}

func newRouter(opts *Options) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Compress(5,
		"text/html",
		"text/css",
		"application/json",
		"image/svg+xml",
	))
	// renames the span and tags the request logger with the chi route pattern
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(httpmw.AccessLog())
	// every route is GET/HEAD
	r.Use(httpmw.MaxBody(1024))

	if opts.Health != nil {
		r.Get("/-/healthy", health.HealthzHandler(opts.Health))
	}
	if opts.Readiness != nil {
		r.Get("/-/ready", health.ReadyzHandler(opts.Readiness))
	}

	if opts.APIRoutes != nil {
		opts.APIRoutes(r)
	}

	// assets, 404 and 405 go to the site handler, otherwise chi defaults
	if opts.SiteHandler != nil {
		r.NotFound(opts.SiteHandler.ServeHTTP)
		r.MethodNotAllowed(opts.SiteHandler.ServeHTTP)
	}
	return r
}

func tracing(next http.Handler) http.Handler {
	return otelhttp.NewHandler(
		next,
		"http.server",
		otelhttp.WithFilter(func(r *http.Request) bool { return traced(r.URL.Path) }),
		// AnnotateHTTPRoute replaces this with the route pattern once chi has matched
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
	)
}

// traced reports whether a path is worth a span: page views and API calls,
// not probes or static assets.
func traced(p string) bool {
	switch {
	case p == "/favicon.ico", p == "/robots.txt", strings.HasPrefix(p, "/assets/"):
		return false
	case strings.HasPrefix(p, "/-/"):
		return false
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".css", ".svg", ".ico", ".png", ".woff2":
		return false
	}
	return true
}

// Server timeout defaults, shared with opshttp.
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20 // 1 MB
)

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Start serves the preview site on opts.Port (default 8080) and returns a
// stop func for graceful shutdown.
func Start(ctx context.Context, opts *Options) (func(context.Context) error, error) {
	port := opts.Port
	if port == 0 {
		port = 8080
	}
	addr := fmt.Sprintf(":%d", port)

	srv := NewServer(addr, NewHandler(opts))
	// a page view can block for the render wait before the first byte
	if opts.WriteTimeout > 0 {
		srv.WriteTimeout = opts.WriteTimeout
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp4", addr)
	if err != nil {
		return nil, xerrors.EnsureTrace(err)
	}

	go func() {
		opts.Logger.Info(ctx, "http server listening", "addr", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			opts.Logger.Error(ctx, err, "http server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			opts.Logger.Info(sctx, "http server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}
