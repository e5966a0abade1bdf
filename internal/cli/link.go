package cli

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/keithlinneman/linnemanlabs-preview/internal/previewhttp"
	"github.com/keithlinneman/linnemanlabs-preview/internal/version"
)

func newLinkCmd(g *globalOpts) *cobra.Command {
	var site string

	cmd := &cobra.Command{
		Use:   "link <slug>",
		Short: "Print the preview URL for a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := g.resolveSecret(cmd.Context())
			if err != nil {
				return err
			}
			if secret == "" {
				return fmt.Errorf("a preview secret is required to build a link")
			}
			link, err := PreviewLink(site, args[0], secret)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), link)
			return err
		},
	}
	cmd.Flags().StringVar(&site, "site-url", "http://localhost:8080", "public URL of the preview server")
	return cmd
}

// PreviewLink builds {site}/preview/article?slug=...&secret=... with both
// values query-escaped.
func PreviewLink(site, slug, secret string) (string, error) {
	u, err := url.Parse(site)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("site url must be an absolute http(s) url (got %q)", site)
	}
	if slug == "" {
		return "", fmt.Errorf("slug is required")
	}
	u = u.JoinPath(previewhttp.PagePath)
	u.RawQuery = url.Values{"slug": {slug}, "secret": {secret}}.Encode()
	return u.String(), nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			vi := version.Get()
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s (commit %s, %s)\n", "previewctl", vi.Version, vi.Commit, vi.GoVersion)
			return err
		},
	}
}
