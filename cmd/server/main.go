package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keithlinneman/linnemanlabs-preview/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-preview/internal/cms"
	"github.com/keithlinneman/linnemanlabs-preview/internal/health"
	"github.com/keithlinneman/linnemanlabs-preview/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-preview/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-preview/internal/preview"
	"github.com/keithlinneman/linnemanlabs-preview/internal/previewhttp"
	"github.com/keithlinneman/linnemanlabs-preview/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-preview/internal/render"
	"github.com/keithlinneman/linnemanlabs-preview/internal/secrets"
	"github.com/keithlinneman/linnemanlabs-preview/internal/sitehandler"
	"github.com/keithlinneman/linnemanlabs-preview/internal/webassets"

	"github.com/keithlinneman/linnemanlabs-preview/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-preview/internal/log"
	"github.com/keithlinneman/linnemanlabs-preview/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-preview/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-preview/internal/prof"
	v "github.com/keithlinneman/linnemanlabs-preview/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// flags, then the optional env file, then PREVIEW_* environment, then validation
	conf, err := cfg.Load(flag.CommandLine, os.Args[1:], func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	// levels were checked by cfg.Validate; an unset stacktrace level keeps the logger default
	lvl, _ := log.ParseLevel(conf.LogLevel)
	var stackLvl slog.Level
	if conf.StacktraceLevel != "" {
		stackLvl, _ = log.ParseLevel(conf.StacktraceLevel)
	}
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           v.Version,
		Commit:            v.Commit,
		BuildId:           v.BuildId,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	// never log the secret or the api token, only where they come from
	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
		"content_base_url", conf.ContentBaseURL,
		"content_api_token_set", conf.ContentAPIToken != "",
		"content_timeout", conf.ContentTimeout,
		"content_retries", conf.ContentRetries,
		"content_duplicates", conf.ContentDuplicates,
		"preview_secret_ssm_param", conf.PreviewSecretSSMParam,
		"render_wait", conf.EffectiveRenderWait(),
		"ratelimit_rps", conf.RateLimitRPS,
		"ratelimit_burst", conf.RateLimitBurst,
		"trusted_proxy_hops", conf.TrustedProxyHops,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion("server", vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"build_id":  vi.BuildId,
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	m.SetProfilingActive(conf.EnablePyroscope && err == nil)
	defer stopProf()

	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  conf.OTLPInsecure,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// resolve the preview secret from ssm when it is not given directly
	if conf.PreviewSecretSSMParam != "" {
		resolver, err := secrets.NewResolver(ctx, secrets.Options{Logger: L})
		if err != nil {
			L.Error(ctx, err, "failed to create secret resolver")
			os.Exit(1)
		}
		conf.PreviewSecret, err = resolver.Resolve(ctx, conf.PreviewSecretSSMParam)
		if err != nil {
			L.Error(ctx, err, "failed to resolve preview secret", "ssm_param", conf.PreviewSecretSSMParam)
			os.Exit(1)
		}
	}

	dup, err := preview.ParseDuplicatePolicy(conf.ContentDuplicates)
	if err != nil {
		L.Error(ctx, err, "invalid duplicate policy")
		os.Exit(1)
	}

	source, err := cms.New(ctx, cms.Options{
		Logger:   L,
		BaseURL:  conf.ContentBaseURL,
		APIToken: conf.ContentAPIToken,
		Timeout:  conf.ContentTimeout,
		Retries:  conf.ContentRetries,
		OnRetry:  m.IncCMSRetry,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create content source")
		os.Exit(1)
	}

	// reachability of the content origin for the ops listener, never for readiness
	var deps health.Probe
	if p, ok := source.(cms.Pinger); ok {
		deps = health.Named("content api", health.Cached(health.CheckFunc(p.Ping), 15*time.Second))
	}

	fetcher, err := preview.NewFetcher(preview.FetcherOptions{
		Config:     conf.Preview(),
		Source:     source,
		Logger:     L,
		Duplicates: dup,
		Observer:   m,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create preview fetcher")
		os.Exit(1)
	}

	presenter, err := render.NewPresenter(nil)
	if err != nil {
		L.Error(ctx, err, "failed to load page templates")
		os.Exit(1)
	}

	api, err := previewhttp.New(previewhttp.Options{
		Logger:        L,
		Fetcher:       fetcher,
		Presenter:     presenter,
		Metrics:       m,
		PreviewSecret: conf.Preview().PreviewSecret,
		RenderWait:    conf.EffectiveRenderWait(),
	})
	if err != nil {
		L.Error(ctx, err, "failed to create preview api")
		os.Exit(1)
	}

	site, err := sitehandler.New(&sitehandler.Options{
		Logger:     L,
		Assets:     webassets.StaticFS(),
		FallbackFS: webassets.FallbackFS(),
	})
	if err != nil {
		L.Error(ctx, err, "failed to create site handler")
		os.Exit(1)
	}

	var gate health.ShutdownGate
	readiness := health.All(gate.Probe())

	limiter := ratelimit.New(ctx,
		ratelimit.WithRate(conf.RateLimitRPS, conf.RateLimitBurst),
		ratelimit.WithOnDenied(func(ip string) {
			m.IncRateLimitDenied()
		}),
		// only log the first time an ip is denied each time it is cleaned from the bucket
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "ip", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
		}),
	)

	siteHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		APIRoutes:    api.RegisterRoutes,
		SiteHandler:  site,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  limiter.Middleware,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedProxyHops},
		Security: httpmw.SecurityOptions{
			DisableHSTS:  conf.DisableHSTS,
			ImageSources: imageSources(conf.ContentBaseURL),
		},
		// a page view may block for RenderWait before answering
		WriteTimeout: conf.EffectiveRenderWait() + 5*time.Second,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start site http listener")
		os.Exit(1)
	}

	// metrics, health and pprof stay on a separate listener restricted to private peers
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		Dependencies: deps,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}

	if err := notifySystemd(); err != nil {
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	stop()

	L.Info(context.Background(), "shutdown signal received")
	gate.Set("draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), conf.EffectiveRenderWait()+10*time.Second)
	defer cancel()

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "app http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	L.Info(context.Background(), "shutdown complete")
}

// imageSources allows article images served from the content origin.
func imageSources(base string) []string {
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil
	}
	return []string{u.Scheme + "://" + u.Host}
}

func notifySystemd() error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return conn.Close()
}
