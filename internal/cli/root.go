// Package cli implements previewctl, a terminal client for draft previews.
package cli

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/keithlinneman/linnemanlabs-preview/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-preview/internal/cms"
	"github.com/keithlinneman/linnemanlabs-preview/internal/log"
	"github.com/keithlinneman/linnemanlabs-preview/internal/preview"
	"github.com/keithlinneman/linnemanlabs-preview/internal/secrets"
	"github.com/keithlinneman/linnemanlabs-preview/internal/xerrors"
)

// globalOpts mirrors the server's preview settings so the same
// PREVIEW_* environment drives both binaries.
type globalOpts struct {
	envFile        string
	logLevel       string
	baseURL        string
	apiToken       string
	previewSecret  string
	secretSSMParam string
	duplicates     string
	timeout        time.Duration
	retries        int
}

// Execute builds the root command and runs it.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func NewRootCmd() *cobra.Command {
	g := &globalOpts{}

	cmd := &cobra.Command{
		Use:           "previewctl",
		Short:         "Preview draft articles from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if g.envFile == "" {
				g.envFile = os.Getenv(cfg.EnvPrefix + "ENV_FILE")
			}
			if err := cfg.LoadEnvFile(g.envFile); err != nil {
				return err
			}
			if err := fillFromEnv(cmd.Flags(), cfg.EnvPrefix); err != nil {
				return err
			}
			level, err := log.ParseLevel(g.logLevel)
			if err != nil {
				return err
			}
			L, err := log.New(log.Options{App: "previewctl", Level: level, Writer: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			cmd.SetContext(log.WithContext(cmd.Context(), L))
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&g.envFile, "env-file", "", "optional dotenv file loaded before env vars are read")
	pf.StringVar(&g.logLevel, "log-level", "warn", "debug|info|warn|error")
	pf.StringVar(&g.baseURL, "content-base-url", "", "content API root (http/https) or static export (s3://bucket/prefix)")
	pf.StringVar(&g.apiToken, "content-api-token", "", "bearer token for the content API")
	pf.StringVar(&g.previewSecret, "preview-secret", "", "configured preview secret")
	pf.StringVar(&g.secretSSMParam, "preview-secret-ssm-param", "", "SSM SecureString parameter holding the preview secret")
	pf.StringVar(&g.duplicates, "content-duplicates", string(preview.DuplicatesFirst), "first|reject when a slug matches several drafts")
	pf.DurationVar(&g.timeout, "content-timeout", cms.DefaultTimeout, "per-attempt content fetch timeout")
	pf.IntVar(&g.retries, "content-retries", 0, "retries on transient content API failures")

	cmd.AddCommand(newShowCmd(g))
	cmd.AddCommand(newLinkCmd(g))
	cmd.AddCommand(newVersionCmd())

	cmd.Run = func(cmd *cobra.Command, _ []string) { _ = cmd.Help() }
	return cmd
}

// fillFromEnv sets every flag not given on the command line from
// PREFIX_FLAG_NAME, the same mapping the server uses. Flags set this way
// count as Changed, so commands treat them like explicit flags.
func fillFromEnv(fs *pflag.FlagSet, prefix string) error {
	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		v, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		if err := fs.Set(f.Name, v); err != nil {
			errs = append(errs, xerrors.Newf("invalid %s: %v", key, err))
		}
	})
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// resolveSecret returns the configured secret, reading SSM when only the
// parameter name is set.
func (g *globalOpts) resolveSecret(ctx context.Context) (string, error) {
	if g.previewSecret != "" || g.secretSSMParam == "" {
		return g.previewSecret, nil
	}
	r, err := secrets.NewResolver(ctx, secrets.Options{Logger: log.FromContext(ctx)})
	if err != nil {
		return "", err
	}
	secret, err := r.Resolve(ctx, g.secretSSMParam)
	if err != nil {
		return "", err
	}
	g.previewSecret = secret
	return secret, nil
}

func (g *globalOpts) fetcher(ctx context.Context) (*preview.Fetcher, error) {
	secret, err := g.resolveSecret(ctx)
	if err != nil {
		return nil, err
	}
	conf := preview.Config{PreviewSecret: secret, ContentBaseURL: g.baseURL}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	dup, err := preview.ParseDuplicatePolicy(g.duplicates)
	if err != nil {
		return nil, err
	}
	L := log.FromContext(ctx)
	src, err := cms.New(ctx, cms.Options{
		Logger:   L,
		BaseURL:  g.baseURL,
		APIToken: g.apiToken,
		Timeout:  g.timeout,
		Retries:  g.retries,
	})
	if err != nil {
		return nil, err
	}
	return preview.NewFetcher(preview.FetcherOptions{
		Config:     conf,
		Source:     src,
		Logger:     L,
		Duplicates: dup,
	})
}
