package cfg

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func wantErrContains(t *testing.T, err error, sub string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q, got <nil>", sub)
	}
	if !strings.Contains(err.Error(), sub) {
		t.Fatalf("error %q does not contain %q", err.Error(), sub)
	}
}

// newTestConfig registers flags on a fresh FlagSet and parses args,
// isolating each test from flag.CommandLine.
func newTestConfig(t *testing.T, args []string) App {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	return c
}

var validArgs = []string{
	"-preview-secret=s3cr3t",
	"-content-base-url=https://cms.example.com",
}

func TestRegister_Defaults(t *testing.T) {
	c := newTestConfig(t, nil)

	if !c.LogJSON {
		t.Error("LogJSON: want true")
	}
	if c.HTTPPort != 8080 || c.AdminPort != 9000 {
		t.Errorf("ports: got %d/%d", c.HTTPPort, c.AdminPort)
	}
	if c.ContentTimeout != 10*time.Second {
		t.Errorf("ContentTimeout: want 10s, got %s", c.ContentTimeout)
	}
	if c.ContentRetries != 0 {
		t.Errorf("ContentRetries: want 0, got %d", c.ContentRetries)
	}
	if c.ContentDuplicates != "first" {
		t.Errorf("ContentDuplicates: want first, got %q", c.ContentDuplicates)
	}
	if c.RenderWait != 15*time.Second {
		t.Errorf("RenderWait: want 15s, got %s", c.RenderWait)
	}
	if c.PreviewSecret != "" || c.ContentBaseURL != "" {
		t.Error("preview secret and base url must have no defaults")
	}
}

func TestRegister_CLIOverrides(t *testing.T) {
	c := newTestConfig(t, []string{
		"-log-json=false",
		"-log-level=debug",
		"-preview-secret=abc",
		"-content-base-url=http://localhost:1337",
		"-content-api-token=tok",
		"-content-timeout=3s",
		"-content-retries=2",
		"-content-duplicates=reject",
		"-render-wait=500ms",
		"-rate-limit-rps=1.5",
		"-trusted-proxy-hops=1",
	})

	if c.LogJSON {
		t.Error("LogJSON: want false")
	}
	if c.PreviewSecret != "abc" || c.ContentBaseURL != "http://localhost:1337" || c.ContentAPIToken != "tok" {
		t.Errorf("preview fields: %+v", c)
	}
	if c.ContentTimeout != 3*time.Second || c.ContentRetries != 2 || c.ContentDuplicates != "reject" {
		t.Errorf("content fields: %+v", c)
	}
	if c.RenderWait != 500*time.Millisecond {
		t.Errorf("RenderWait: got %s", c.RenderWait)
	}
	if c.RateLimitRPS != 1.5 || c.TrustedProxyHops != 1 {
		t.Errorf("limits: %+v", c)
	}
}

func TestFillFromEnv(t *testing.T) {
	pfx := "TESTCFG_"
	t.Setenv(pfx+"LOG_LEVEL", "debug")
	t.Setenv(pfx+"PREVIEW_SECRET", "from-env")
	t.Setenv(pfx+"CONTENT_BASE_URL", "https://cms.example.com")
	t.Setenv(pfx+"CONTENT_TIMEOUT", "2s")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	FillFromEnv(fs, pfx, nil)

	if c.LogLevel != "debug" {
		t.Errorf("LogLevel: want debug, got %q", c.LogLevel)
	}
	if c.PreviewSecret != "from-env" {
		t.Errorf("PreviewSecret: got %q", c.PreviewSecret)
	}
	if c.ContentTimeout != 2*time.Second {
		t.Errorf("ContentTimeout: got %s", c.ContentTimeout)
	}
}

func TestFillFromEnv_CLITakesPrecedence(t *testing.T) {
	pfx := "TESTCFG2_"
	t.Setenv(pfx+"HTTP_PORT", "7777")
	t.Setenv(pfx+"PREVIEW_SECRET", "env-secret")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse([]string{"-http-port=9090", "-preview-secret=cli-secret"}); err != nil {
		t.Fatalf("flag parse: %v", err)
	}

	var msgs []string
	FillFromEnv(fs, pfx, func(format string, args ...any) {
		msgs = append(msgs, fmt.Sprintf(format, args...))
	})

	if c.HTTPPort != 9090 || c.PreviewSecret != "cli-secret" {
		t.Errorf("cli should win: port=%d secret=%q", c.HTTPPort, c.PreviewSecret)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 override messages, got %v", msgs)
	}
	for _, m := range msgs {
		if strings.Contains(m, "env-secret") || strings.Contains(m, "cli-secret") {
			t.Errorf("override message leaks a value: %s", m)
		}
	}
}

func TestFillFromEnv_InvalidEnvIgnored(t *testing.T) {
	pfx := "TESTCFG3_"
	t.Setenv(pfx+"CONTENT_TIMEOUT", "soon")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("flag parse: %v", err)
	}

	var msgs []string
	FillFromEnv(fs, pfx, func(format string, args ...any) {
		msgs = append(msgs, fmt.Sprintf(format, args...))
	})

	if c.ContentTimeout != 10*time.Second {
		t.Errorf("ContentTimeout: want default, got %s", c.ContentTimeout)
	}
	if len(msgs) != 1 || !strings.Contains(msgs[0], "ignoring invalid env") {
		t.Fatalf("messages = %v", msgs)
	}
	if strings.Contains(msgs[0], "soon\"") {
		t.Errorf("message should not echo the value: %s", msgs[0])
	}
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "preview.env")
	body := "PREVIEW_PREVIEW_SECRET=dotenv-secret\nPREVIEW_CONTENT_BASE_URL=https://cms.example.com\nPREVIEW_HTTP_PORT=8181\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	// real env wins over the file
	t.Setenv("PREVIEW_HTTP_PORT", "8282")
	t.Cleanup(func() {
		os.Unsetenv("PREVIEW_PREVIEW_SECRET")
		os.Unsetenv("PREVIEW_CONTENT_BASE_URL")
	})

	c, err := Load(flag.NewFlagSet("test", flag.ContinueOnError), []string{"-env-file=" + path}, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.PreviewSecret != "dotenv-secret" {
		t.Errorf("PreviewSecret: got %q", c.PreviewSecret)
	}
	if c.HTTPPort != 8282 {
		t.Errorf("HTTPPort: want 8282 from env, got %d", c.HTTPPort)
	}
	if got := c.Preview(); got.PreviewSecret != "dotenv-secret" || got.ContentBaseURL != "https://cms.example.com" {
		t.Errorf("Preview() = %+v", got)
	}
}

func TestLoad_MissingEnvFile(t *testing.T) {
	_, err := Load(flag.NewFlagSet("test", flag.ContinueOnError), []string{"-env-file=/nonexistent/preview.env"}, nil)
	wantErrContains(t, err, "load env file")
}

func TestValidate_OK(t *testing.T) {
	args := append([]string{
		"-enable-pyroscope=true",
		"-pyro-server=https://pyro:4040",
		"-pyro-tenant=test-tenant",
		"-enable-tracing=true",
		"-otlp-endpoint=otel:4317",
		"-trace-sample=0.2",
	}, validArgs...)
	if err := Validate(newTestConfig(t, args)); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_SSMParamInsteadOfSecret(t *testing.T) {
	c := newTestConfig(t, []string{
		"-preview-secret-ssm-param=/app/preview/secret",
		"-content-base-url=s3://bucket/drafts",
	})
	if err := Validate(c); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_SecretSources(t *testing.T) {
	c := newTestConfig(t, []string{"-content-base-url=https://cms.example.com"})
	wantErrContains(t, Validate(c), "is required")

	c = newTestConfig(t, []string{
		"-content-base-url=https://cms.example.com",
		"-preview-secret=a",
		"-preview-secret-ssm-param=/b",
	})
	wantErrContains(t, Validate(c), "mutually exclusive")
}

func TestValidate_InvalidCombined(t *testing.T) {
	c := newTestConfig(t, []string{
		"-http-port=0",
		"-admin-port=70000",
		"-log-level=nope",
		"-trace-sample=2.0",
		"-enable-tracing=true",
		"-otlp-endpoint=otel",
		"-max-error-links=0",
		"-preview-secret=x",
		"-content-base-url=ftp://cms",
		"-content-timeout=0s",
		"-content-retries=11",
		"-content-duplicates=last",
		"-render-wait=-1s",
		"-rate-limit-rps=0",
		"-rate-limit-burst=0",
		"-trusted-proxy-hops=9",
	})

	err := Validate(c)
	for _, sub := range []string{
		"invalid HTTP_PORT",
		"invalid ADMIN_PORT",
		"invalid LOG_LEVEL",
		"invalid TRACE_SAMPLE",
		"OTLP_ENDPOINT must be host:port",
		"MAX_ERROR_LINKS",
		"invalid CONTENT_BASE_URL",
		"CONTENT_TIMEOUT",
		"CONTENT_RETRIES",
		"invalid CONTENT_DUPLICATES",
		"RENDER_WAIT",
		"RATE_LIMIT_RPS",
		"RATE_LIMIT_BURST",
		"TRUSTED_PROXY_HOPS",
	} {
		wantErrContains(t, err, sub)
	}
}

func TestEffectiveRenderWait(t *testing.T) {
	c := newTestConfig(t, append([]string{"-render-wait=0s"}, validArgs...))
	if got := c.EffectiveRenderWait(); got != 15*time.Second {
		t.Fatalf("EffectiveRenderWait() = %s, want 15s", got)
	}
	if err := Validate(c); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	c = newTestConfig(t, append([]string{"-render-wait=20s"}, validArgs...))
	if got := c.EffectiveRenderWait(); got != 20*time.Second {
		t.Fatalf("EffectiveRenderWait() = %s, want 20s", got)
	}
}

func TestValidate_RenderWaitCoversFetch(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"defaults", nil, false},
		{"shorter than one attempt", []string{"-render-wait=5s"}, true},
		{"unset wait with slow fetch", []string{"-render-wait=0s", "-content-timeout=20s"}, true},
		{"retries exceed wait", []string{"-content-timeout=5s", "-content-retries=2"}, true},
		{"wait covers retries", []string{"-content-timeout=5s", "-content-retries=2", "-render-wait=20s"}, false},
		{"exactly one attempt", []string{"-content-timeout=15s"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(newTestConfig(t, append(tt.args, validArgs...)))
			if tt.wantErr {
				wantErrContains(t, err, "worst-case content fetch")
				return
			}
			if err != nil {
				t.Fatalf("Validate() unexpected error: %v", err)
			}
		})
	}
}
