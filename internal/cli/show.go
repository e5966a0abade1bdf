package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/keithlinneman/linnemanlabs-preview/internal/preview"
	"github.com/keithlinneman/linnemanlabs-preview/internal/previewhttp"
	"github.com/keithlinneman/linnemanlabs-preview/internal/render"
)

// StateError reports a preview that ended in an error state.
type StateError struct {
	State preview.ViewState
}

func (e *StateError) Error() string {
	if e.State.Status == preview.StatusLoading {
		return "preview did not finish loading"
	}
	return e.State.Message
}

// ExitCode maps an Execute error to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var se *StateError
	if !errors.As(err, &se) {
		return 1
	}
	switch se.State.Status {
	case preview.StatusUnauthorized:
		return 3
	case preview.StatusNotFound:
		return 4
	case preview.StatusFetchFailed:
		return 5
	default:
		return 6
	}
}

func newShowCmd(g *globalOpts) *cobra.Command {
	var (
		secret string
		format string
		style  string
		width  int
		wait   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "show <slug>",
		Short: "Fetch a draft and render it",
		Long: "Fetch a draft article exactly as the preview page does and render it.\n" +
			"The process exits non-zero when the preview is unauthorized, missing or fails.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			f, err := g.fetcher(ctx)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("secret") {
				secret, err = g.resolveSecret(ctx)
				if err != nil {
					return err
				}
			}

			st := runView(ctx, g.previewSecret, f, preview.ParamsFromQuery(url.Values{"slug": {args[0]}, "secret": {secret}}), wait)
			if err := writeState(cmd.OutOrStdout(), st, format, style, width); err != nil {
				return err
			}
			if st.Status != preview.StatusLoaded {
				return &StateError{State: st}
			}
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&secret, "secret", "", "secret to present (defaults to the configured preview secret)")
	fl.StringVar(&format, "format", "terminal", "terminal|html|json")
	fl.StringVar(&style, "style", "", "glamour style for terminal output (dark, light, notty, ...)")
	fl.IntVar(&width, "width", 80, "word wrap width for terminal output")
	fl.DurationVar(&wait, "wait", 30*time.Second, "give up waiting for the draft after this long")
	return cmd
}

// runView is one page view: a controller navigated once and waited on.
func runView(ctx context.Context, configured string, f preview.PreviewFetcher, p preview.Params, wait time.Duration) preview.ViewState {
	c := preview.NewController(ctx, configured, f)
	defer c.Close()
	c.Navigate(p)

	wctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	st, _ := c.Wait(wctx)
	return st
}

func writeState(w io.Writer, st preview.ViewState, format, style string, width int) error {
	switch format {
	case "terminal", "":
		return render.TerminalWithStyle(w, st, width, style)
	case "html":
		p, err := render.NewPresenter(nil)
		if err != nil {
			return err
		}
		return p.WriteHTML(w, st)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(previewhttp.NewViewResponse(st))
	default:
		return fmt.Errorf("unknown format %q (valid formats are terminal|html|json)", format)
	}
}
