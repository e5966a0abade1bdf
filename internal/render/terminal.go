package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/keithlinneman/linnemanlabs-preview/internal/preview"
	"github.com/keithlinneman/linnemanlabs-preview/internal/xerrors"
)

// Terminal writes st for a terminal, picking a glamour style from the
// environment.
func Terminal(w io.Writer, st preview.ViewState, width int) error {
	return TerminalWithStyle(w, st, width, "")
}

// TerminalWithStyle is Terminal with a named glamour style ("dark",
// "light", "notty", "dracula", ...). An empty style means auto.
func TerminalWithStyle(w io.Writer, st preview.ViewState, width int, style string) error {
	switch {
	case st.Status == preview.StatusLoading:
		_, err := io.WriteString(w, "…\n")
		return err
	case st.IsError():
		_, err := fmt.Fprintf(w, "! %s\n", st.Message)
		return err
	case st.Article == nil:
		_, err := fmt.Fprintf(w, "! %s\n", preview.MsgFetchFailed)
		return err
	}

	if width <= 0 {
		width = 80
	}
	styleOpt := glamour.WithAutoStyle()
	if style != "" {
		styleOpt = glamour.WithStandardStyle(style)
	}
	r, err := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(width))
	if err != nil {
		return xerrors.Wrap(err, "create terminal renderer")
	}

	body := paragraphBreaks(strings.TrimSpace(preview.NormalizeContent(st.Article.Content)))
	doc := fmt.Sprintf("# %s\n\n%s\n", st.Article.Title, body)
	out, err := r.Render(doc)
	if err != nil {
		return xerrors.Wrap(err, "render markdown")
	}
	_, err = io.WriteString(w, out)
	return err
}

// paragraphBreaks keeps every newline visible once glamour word wraps the
// body. Wrapping reflows soft and trailing-space breaks, so each newline
// outside a fenced code block becomes a paragraph break instead. Fenced
// blocks are left as they are.
func paragraphBreaks(body string) string {
	lines := strings.Split(body, "\n")
	var b strings.Builder
	fenced := false
	for i, line := range lines {
		if i > 0 {
			if fenced {
				b.WriteString("\n")
			} else {
				b.WriteString("\n\n")
			}
		}
		b.WriteString(line)
		if t := strings.TrimSpace(line); strings.HasPrefix(t, "```") || strings.HasPrefix(t, "~~~") {
			fenced = !fenced
		}
	}
	return b.String()
}
