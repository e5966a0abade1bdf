// Package previewhttp serves the draft preview page and its JSON twin.
package previewhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-preview/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-preview/internal/log"
	"github.com/keithlinneman/linnemanlabs-preview/internal/preview"
	"github.com/keithlinneman/linnemanlabs-preview/internal/render"
	"github.com/keithlinneman/linnemanlabs-preview/internal/xerrors"
)

const (
	PagePath = "/preview/article"
	JSONPath = "/api/preview/article"

	DefaultRenderWait = 15 * time.Second
	DefaultRefresh    = 2 * time.Second
)

// Metrics is the subset of the server metrics the preview routes feed.
type Metrics interface {
	IncPreviewOutcome(outcome string)
	IncPreviewSuperseded()
}

type nopMetrics struct{}

func (nopMetrics) IncPreviewOutcome(string) {}
func (nopMetrics) IncPreviewSuperseded()    {}

type Options struct {
	Logger    log.Logger
	Fetcher   preview.PreviewFetcher
	Presenter *render.Presenter
	Metrics   Metrics

	// PreviewSecret gates each page view before the fetcher is asked for
	// anything.
	PreviewSecret string

	// RenderWait bounds how long a page view waits for a terminal state
	// before the loading page is served instead.
	RenderWait time.Duration
	// Refresh is the reload hint sent with the loading page.
	Refresh time.Duration
}

// API implements the preview endpoints. Each request is one page view with
// its own controller; nothing is shared between requests.
type API struct {
	secret     string
	fetcher    preview.PreviewFetcher
	presenter  *render.Presenter
	metrics    Metrics
	logger     log.Logger
	renderWait time.Duration
	refresh    time.Duration
}

func New(opts Options) (*API, error) {
	if opts.Fetcher == nil {
		return nil, xerrors.New("previewhttp: Fetcher is required")
	}
	if opts.Presenter == nil {
		return nil, xerrors.New("previewhttp: Presenter is required")
	}
	if opts.PreviewSecret == "" {
		return nil, xerrors.New("previewhttp: PreviewSecret is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.RenderWait <= 0 {
		opts.RenderWait = DefaultRenderWait
	}
	if opts.Refresh <= 0 {
		opts.Refresh = DefaultRefresh
	}
	return &API{
		secret:     opts.PreviewSecret,
		fetcher:    opts.Fetcher,
		presenter:  opts.Presenter,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		renderWait: opts.RenderWait,
		refresh:    opts.Refresh,
	}, nil
}

// RegisterRoutes attaches the preview endpoints to the router
func (api *API) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(httpmw.NoIndex)
		r.With(httpmw.Scope("preview")).Get(PagePath, api.HandlePage)
		r.With(httpmw.Scope("preview")).Head(PagePath, api.HandlePage)
		r.With(httpmw.Scope("preview_json")).Get(JSONPath, api.HandleJSON)
	})
}

// view runs one page view: navigate with the request params and wait for
// the outcome up to the render wait.
func (api *API) view(ctx context.Context, p preview.Params) preview.ViewState {
	c := preview.NewController(ctx, api.secret, api.fetcher, preview.WithOnStale(api.metrics.IncPreviewSuperseded))
	defer c.Close()

	c.Navigate(p)

	wctx, cancel := context.WithTimeout(ctx, api.renderWait)
	defer cancel()
	st, err := c.Wait(wctx)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		log.FromContextOr(ctx, api.logger).Warn(ctx, "preview wait ended early", "err", err.Error())
	}
	api.metrics.IncPreviewOutcome(st.Status.String())
	return st
}

// viewInfo exposes the outcome of a page view to httpmw.ContentHeaders.
type viewInfo struct{ st preview.ViewState }

func (v viewInfo) ContentStatus() string { return v.st.Status.String() }

func (v viewInfo) ContentID() string {
	if v.st.Status != preview.StatusLoaded || v.st.Article == nil {
		return ""
	}
	return strconv.Itoa(v.st.Article.ID)
}

// HandlePage serves the HTML preview.
func (api *API) HandlePage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	L := log.FromContextOr(ctx, api.logger)

	st := api.view(ctx, preview.ParamsFromQuery(httpmw.FullQuery(r)))

	var buf bytes.Buffer
	if err := api.presenter.WriteHTML(&buf, st); err != nil {
		L.Error(ctx, err, "render preview page", "status", st.Status.String())
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	httpmw.ContentHeaders(w, r, viewInfo{st})
	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(buf.Len()))
	if st.Status == preview.StatusLoading {
		h.Set("Refresh", strconv.Itoa(int(api.refresh/time.Second)))
	}
	w.WriteHeader(StatusCode(st))
	if r.Method != http.MethodHead {
		_, _ = w.Write(buf.Bytes())
	}
}

// ViewResponse is the JSON form of a view state.
type ViewResponse struct {
	Status  string           `json:"status"`
	Message string           `json:"message,omitempty"`
	Article *ArticleResponse `json:"article,omitempty"`
}

type ArticleResponse struct {
	ID      int    `json:"id"`
	Title   string `json:"title"`
	Slug    string `json:"slug"`
	Content string `json:"content"`
	HTML    string `json:"html"`
}

func NewViewResponse(st preview.ViewState) ViewResponse {
	resp := ViewResponse{Status: st.Status.String(), Message: st.Message}
	if st.Status == preview.StatusLoaded && st.Article != nil {
		content := preview.NormalizeContent(st.Article.Content)
		resp.Article = &ArticleResponse{
			ID:      st.Article.ID,
			Title:   st.Article.Title,
			Slug:    st.Article.Slug,
			Content: content,
			HTML:    string(render.Markdown(content)),
		}
	}
	return resp
}

// HandleJSON serves the same view state as JSON for tooling.
func (api *API) HandleJSON(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	st := api.view(ctx, preview.ParamsFromQuery(httpmw.FullQuery(r)))
	httpmw.ContentHeaders(w, r, viewInfo{st})
	status := StatusCode(st)
	if st.Status == preview.StatusLoading {
		status = http.StatusAccepted
		w.Header().Set("Retry-After", strconv.Itoa(int(api.refresh/time.Second)))
	}
	api.writeJSON(ctx, w, status, NewViewResponse(st))
}

// StatusCode maps a view state to the HTTP status of its page.
func StatusCode(st preview.ViewState) int {
	switch st.Status {
	case preview.StatusLoaded, preview.StatusLoading:
		return http.StatusOK
	case preview.StatusUnauthorized:
		return http.StatusUnauthorized
	case preview.StatusNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.FromContextOr(ctx, api.logger).Warn(ctx, "failed to encode JSON response", "err", err.Error())
	}
}
