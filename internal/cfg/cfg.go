package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/keithlinneman/linnemanlabs-preview/internal/cms"
	"github.com/keithlinneman/linnemanlabs-preview/internal/log"
	"github.com/keithlinneman/linnemanlabs-preview/internal/preview"
	"github.com/keithlinneman/linnemanlabs-preview/internal/previewhttp"
)

// EnvPrefix is prepended to every flag name to form its environment key.
const EnvPrefix = "PREVIEW_"

type App struct {
	EnvFile           string
	LogJSON           bool
	LogLevel          string
	HTTPPort          int
	AdminPort         int
	EnablePprof       bool
	EnablePyroscope   bool
	EnableTracing     bool
	PyroServer        string
	PyroTenantID      string
	OTLPEndpoint      string
	OTLPInsecure      bool
	TraceSample       float64
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	PreviewSecret         string
	PreviewSecretSSMParam string
	ContentBaseURL        string
	ContentAPIToken       string
	ContentTimeout        time.Duration
	ContentRetries        int
	ContentDuplicates     string
	RenderWait            time.Duration

	RateLimitRPS     float64
	RateLimitBurst   int
	TrustedProxyHops int
	DisableHSTS      bool
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.StringVar(&c.EnvFile, "env-file", "", "optional dotenv file loaded before env vars are read")
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.BoolVar(&c.OTLPInsecure, "otlp-insecure", false, "disable TLS to the OTLP endpoint")

	fs.StringVar(&c.PreviewSecret, "preview-secret", "", "shared secret the preview link must carry")
	fs.StringVar(&c.PreviewSecretSSMParam, "preview-secret-ssm-param", "", "SSM SecureString parameter holding the preview secret")
	fs.StringVar(&c.ContentBaseURL, "content-base-url", "", "content API root (http/https) or static export (s3://bucket/prefix)")
	fs.StringVar(&c.ContentAPIToken, "content-api-token", "", "bearer token for the content API")
	fs.DurationVar(&c.ContentTimeout, "content-timeout", 10*time.Second, "per-attempt content fetch timeout")
	fs.IntVar(&c.ContentRetries, "content-retries", 0, "retries on transient content API failures (0..10)")
	fs.StringVar(&c.ContentDuplicates, "content-duplicates", string(preview.DuplicatesFirst), "first|reject when a slug matches several drafts")
	fs.DurationVar(&c.RenderWait, "render-wait", previewhttp.DefaultRenderWait, "how long a page view waits before serving the loading page (0 uses the default)")

	fs.Float64Var(&c.RateLimitRPS, "rate-limit-rps", 5, "per-client requests per second")
	fs.IntVar(&c.RateLimitBurst, "rate-limit-burst", 20, "per-client burst")
	fs.IntVar(&c.TrustedProxyHops, "trusted-proxy-hops", 0, "reverse proxies trusted for X-Forwarded-For (0..8)")
	fs.BoolVar(&c.DisableHSTS, "disable-hsts", false, "omit Strict-Transport-Security (plain-http dev)")
}

// EffectiveRenderWait is the wait the preview routes actually use: an unset
// RenderWait falls back to the default.
func (c App) EffectiveRenderWait() time.Duration {
	if c.RenderWait <= 0 {
		return previewhttp.DefaultRenderWait
	}
	return c.RenderWait
}

// LoadEnvFile loads a dotenv file into the process environment. Existing
// variables win over the file. An empty path is a no-op.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value overrides env %s", f.Name, key)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				// value omitted, it may be the secret
				logf("flag -%s: ignoring invalid env %s: %v", f.Name, key, err)
			}
		}
	})
}

// Load parses args, applies the optional env file and the environment, and
// validates the result.
func Load(fs *flag.FlagSet, args []string, logf func(string, ...any)) (App, error) {
	var c App
	Register(fs, &c)
	if err := fs.Parse(args); err != nil {
		return c, err
	}
	envFile := c.EnvFile
	if envFile == "" {
		envFile = os.Getenv(EnvPrefix + "ENV_FILE")
	}
	if err := LoadEnvFile(envFile); err != nil {
		return c, err
	}
	FillFromEnv(fs, EnvPrefix, logf)
	return c, Validate(c)
}

// Preview returns the injected preview configuration. The secret must
// already be resolved.
func (c App) Preview() preview.Config {
	return preview.Config{PreviewSecret: c.PreviewSecret, ContentBaseURL: c.ContentBaseURL}
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, errors.New("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, errors.New("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, errors.New("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if c.IncludeErrorLinks {
		if c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64 {
			errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
		}
	}

	switch {
	case c.PreviewSecret == "" && c.PreviewSecretSSMParam == "":
		errs = append(errs, errors.New("one of PREVIEW_PREVIEW_SECRET or PREVIEW_PREVIEW_SECRET_SSM_PARAM is required"))
	case c.PreviewSecret != "" && c.PreviewSecretSSMParam != "":
		errs = append(errs, errors.New("PREVIEW_PREVIEW_SECRET and PREVIEW_PREVIEW_SECRET_SSM_PARAM are mutually exclusive"))
	}

	// the secret may still be pending SSM resolution, check the URL alone
	probe := preview.Config{PreviewSecret: "-", ContentBaseURL: c.ContentBaseURL}
	if err := probe.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("invalid CONTENT_BASE_URL: %w", err))
	}
	if c.ContentTimeout <= 0 {
		errs = append(errs, fmt.Errorf("CONTENT_TIMEOUT must be positive (got %s)", c.ContentTimeout))
	}
	if c.ContentRetries < 0 || c.ContentRetries > 10 {
		errs = append(errs, fmt.Errorf("CONTENT_RETRIES must be 0..10 (got %d)", c.ContentRetries))
	}
	if _, err := preview.ParseDuplicatePolicy(c.ContentDuplicates); err != nil {
		errs = append(errs, fmt.Errorf("invalid CONTENT_DUPLICATES: %w", err))
	}
	// a wait shorter than one fetch can ever take turns a hung content api
	// into an endless loading page instead of a fetch failure
	switch {
	case c.RenderWait < 0:
		errs = append(errs, fmt.Errorf("RENDER_WAIT must not be negative (got %s)", c.RenderWait))
	case c.ContentTimeout > 0 && c.ContentRetries >= 0 && c.ContentRetries <= 10:
		if worst := cms.WorstCaseFetch(c.ContentTimeout, c.ContentRetries); c.EffectiveRenderWait() < worst {
			errs = append(errs, fmt.Errorf("RENDER_WAIT %s is shorter than the worst-case content fetch %s (CONTENT_TIMEOUT x (CONTENT_RETRIES+1) plus retry backoff)",
				c.EffectiveRenderWait(), worst))
		}
	}

	if c.RateLimitRPS <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS must be positive (got %v)", c.RateLimitRPS))
	}
	if c.RateLimitBurst < 1 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BURST must be at least 1 (got %d)", c.RateLimitBurst))
	}
	if c.TrustedProxyHops < 0 || c.TrustedProxyHops > 8 {
		errs = append(errs, fmt.Errorf("TRUSTED_PROXY_HOPS must be 0..8 (got %d)", c.TrustedProxyHops))
	}

	return errors.Join(errs...)
}
