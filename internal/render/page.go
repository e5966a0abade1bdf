package render

import (
	"html/template"
	"io"
	"io/fs"

	"github.com/keithlinneman/linnemanlabs-preview/internal/preview"
	"github.com/keithlinneman/linnemanlabs-preview/internal/webassets"
	"github.com/keithlinneman/linnemanlabs-preview/internal/xerrors"
)

// Page is the template model for one view state.
type Page struct {
	DocTitle string
	Status   preview.Status
	Loading  bool
	Message  string
	Title    string
	Body     template.HTML
}

// Presenter maps view states to HTML pages.
type Presenter struct {
	tmpl *template.Template
}

// NewPresenter parses page.html from templates, or from the embedded
// templates when templates is nil.
func NewPresenter(templates fs.FS) (*Presenter, error) {
	if templates == nil {
		templates = webassets.TemplatesFS()
	}
	t, err := template.ParseFS(templates, "page.html")
	if err != nil {
		return nil, xerrors.Wrap(err, "parse page template")
	}
	if t.Lookup("page") == nil {
		return nil, xerrors.New(`page template must define "page"`)
	}
	return &Presenter{tmpl: t}, nil
}

// Page builds the template model. It does not touch the network or the
// session; the same state always yields the same page.
func (p *Presenter) Page(st preview.ViewState) Page {
	pg := Page{DocTitle: "Preview", Status: st.Status}
	switch {
	case st.Status == preview.StatusLoading:
		pg.Loading = true
	case st.Status == preview.StatusLoaded && st.Article != nil:
		pg.Title = st.Article.Title
		pg.DocTitle = st.Article.Title + " (preview)"
		pg.Body = Markdown(preview.NormalizeContent(st.Article.Content))
	case st.IsError():
		pg.Message = st.Message
	default:
		// Loaded without an article renders as a fetch failure
		pg.Status = preview.StatusFetchFailed
		pg.Message = preview.MsgFetchFailed
	}
	return pg
}

func (p *Presenter) WriteHTML(w io.Writer, st preview.ViewState) error {
	if err := p.tmpl.ExecuteTemplate(w, "page", p.Page(st)); err != nil {
		return xerrors.Wrap(err, "render preview page")
	}
	return nil
}
