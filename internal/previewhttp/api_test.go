package previewhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-preview/internal/cms"
	"github.com/keithlinneman/linnemanlabs-preview/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-preview/internal/preview"
	"github.com/keithlinneman/linnemanlabs-preview/internal/render"
)

const testSecret = "let-me-in"

// fakeCMS serves /api/articles from a slug -> JSON body table.
type fakeCMS struct {
	srv    *httptest.Server
	hits   atomic.Int32
	mu     sync.Mutex
	bodies map[string]string
	status int
	delay  time.Duration
	last   url.Values
}

func newFakeCMS(t *testing.T) *fakeCMS {
	t.Helper()
	f := &fakeCMS{bodies: map[string]string{}, status: http.StatusOK}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		f.mu.Lock()
		f.last = r.URL.Query()
		status, delay := f.status, f.delay
		body, ok := f.bodies[r.URL.Query().Get("filters[slug][$eq]")]
		f.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		if !ok {
			body = `{"data":[]}`
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeCMS) setBody(slug, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[slug] = body
}

func (f *fakeCMS) setStatus(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = code
}

func (f *fakeCMS) setDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

func (f *fakeCMS) lastQuery() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type countingMetrics struct {
	mu         sync.Mutex
	outcomes   map[string]int
	superseded int
}

func (m *countingMetrics) IncPreviewOutcome(o string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = map[string]int{}
	}
	m.outcomes[o]++
}

func (m *countingMetrics) IncPreviewSuperseded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.superseded++
}

type harness struct {
	cms     *fakeCMS
	metrics *countingMetrics
	handler http.Handler
}

func newHarness(t *testing.T, renderWait time.Duration) *harness {
	t.Helper()
	fc := newFakeCMS(t)
	src, err := cms.NewStrapiClient(cms.StrapiOptions{BaseURL: fc.srv.URL, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewStrapiClient: %v", err)
	}
	fetcher, err := preview.NewFetcher(preview.FetcherOptions{
		Config: preview.Config{PreviewSecret: testSecret, ContentBaseURL: fc.srv.URL},
		Source: src,
	})
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	presenter, err := render.NewPresenter(nil)
	if err != nil {
		t.Fatalf("NewPresenter: %v", err)
	}
	m := &countingMetrics{}
	api, err := New(Options{Fetcher: fetcher, Presenter: presenter, Metrics: m, PreviewSecret: testSecret, RenderWait: renderWait})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := chi.NewRouter()
	api.RegisterRoutes(r)
	return &harness{cms: fc, metrics: m, handler: httpmw.SealQuery("secret")(r)}
}

func (h *harness) get(path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func previewURL(slug, secret string) string {
	q := url.Values{}
	q.Set("slug", slug)
	q.Set("secret", secret)
	return PagePath + "?" + q.Encode()
}

func TestNew_Validation(t *testing.T) {
	p, _ := render.NewPresenter(nil)
	if _, err := New(Options{Presenter: p, PreviewSecret: testSecret}); err == nil {
		t.Fatal("expected error without fetcher")
	}
	if _, err := New(Options{Fetcher: stubFetcher{}, PreviewSecret: testSecret}); err == nil {
		t.Fatal("expected error without presenter")
	}
	if _, err := New(Options{Fetcher: stubFetcher{}, Presenter: p}); err == nil {
		t.Fatal("expected error without preview secret")
	}
}

func TestHandlePage_HappyPath(t *testing.T) {
	h := newHarness(t, time.Second)
	h.cms.setBody("hello", `{"data":[{"id":1,"title":"Hi","content":"line1\\nline2","slug":"hello"}]}`)

	rec := h.get(previewURL("hello", testSecret))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<h1>Hi</h1>") {
		t.Fatalf("missing heading:\n%s", body)
	}
	if !strings.Contains(body, "line1<br") || !strings.Contains(body, "line2") || strings.Contains(body, `line1\nline2`) {
		t.Fatalf("content not split onto two lines:\n%s", body)
	}

	if got := h.cms.lastQuery().Get("publicationState"); got != "preview" {
		t.Fatalf("publicationState = %q", got)
	}
	if got := h.cms.lastQuery().Get("filters[slug][$eq]"); got != "hello" {
		t.Fatalf("slug filter = %q", got)
	}
	if h.cms.hits.Load() != 1 {
		t.Fatalf("cms hits = %d, want 1", h.cms.hits.Load())
	}
	if got := rec.Header().Get("X-Preview-Status"); got != "loaded" {
		t.Fatalf("X-Preview-Status = %q", got)
	}
	if got := rec.Header().Get("X-Preview-Article"); got != "1" {
		t.Fatalf("X-Preview-Article = %q", got)
	}
	if h.metrics.outcomes["loaded"] != 1 {
		t.Fatalf("outcomes = %v", h.metrics.outcomes)
	}
}

func TestHandlePage_Headers(t *testing.T) {
	h := newHarness(t, time.Second)
	rec := h.get(previewURL("nope", testSecret))

	for k, want := range map[string]string{
		"Cache-Control":   "no-store",
		"X-Robots-Tag":    "noindex, nofollow",
		"Referrer-Policy": "no-referrer",
		"Content-Type":    "text/html; charset=utf-8",
	} {
		if got := rec.Header().Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
}

func TestHandlePage_Outcomes(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		cmsStatus  int
		wantStatus int
		wantMsg    string
		wantHits   int32
	}{
		{"absent slug", PagePath + "?secret=" + testSecret, 200, 401, preview.MsgUnauthorized, 0},
		{"empty slug", PagePath + "?slug=&secret=" + testSecret, 200, 401, preview.MsgUnauthorized, 0},
		{"wrong secret", previewURL("hello", "nope"), 200, 401, preview.MsgUnauthorized, 0},
		{"case differs", previewURL("hello", strings.ToUpper(testSecret)), 200, 401, preview.MsgUnauthorized, 0},
		{"missing secret", PagePath + "?slug=hello", 200, 401, preview.MsgUnauthorized, 0},
		{"no records", previewURL("ghost", testSecret), 200, 404, preview.MsgNotFound, 1},
		{"cms error", previewURL("hello", testSecret), 500, 502, preview.MsgFetchFailed, 1},
		{"cms forbidden", previewURL("hello", testSecret), 403, 502, preview.MsgFetchFailed, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, time.Second)
			h.cms.setStatus(tt.cmsStatus)

			rec := h.get(tt.target)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantMsg) {
				t.Fatalf("body missing %q:\n%s", tt.wantMsg, rec.Body.String())
			}
			if got := h.cms.hits.Load(); got != tt.wantHits {
				t.Fatalf("cms hits = %d, want %d", got, tt.wantHits)
			}
		})
	}
}

func TestHandlePage_TransportError(t *testing.T) {
	h := newHarness(t, time.Second)
	h.cms.srv.Close()

	rec := h.get(previewURL("hello", testSecret))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), preview.MsgFetchFailed) {
		t.Fatalf("body:\n%s", rec.Body.String())
	}
}

func TestHandlePage_LoadingWhenWaitElapses(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond)
	h.cms.setDelay(time.Second)

	rec := h.get(previewURL("slow", testSecret))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Refresh") != "2" {
		t.Fatalf("Refresh = %q", rec.Header().Get("Refresh"))
	}
	body := rec.Body.String()
	if !strings.Contains(body, "loader.svg") {
		t.Fatalf("loading indicator missing:\n%s", body)
	}
	for _, msg := range []string{preview.MsgUnauthorized, preview.MsgNotFound, preview.MsgFetchFailed} {
		if strings.Contains(body, msg) {
			t.Fatalf("loading page shows %q", msg)
		}
	}
}

func TestHandlePage_Head(t *testing.T) {
	h := newHarness(t, time.Second)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, previewURL("x", "wrong"), nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("HEAD wrote a body")
	}
}

func TestHandleJSON(t *testing.T) {
	h := newHarness(t, time.Second)
	h.cms.setBody("hello", `{"data":[{"id":7,"title":"Hi","content":"a\\nb","slug":"hello"}]}`)

	q := url.Values{"slug": {"hello"}, "secret": {testSecret}}
	rec := h.get(JSONPath + "?" + q.Encode())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp ViewResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "loaded" || resp.Article == nil {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Article.ID != 7 || resp.Article.Content != "a\nb" {
		t.Fatalf("article = %+v", resp.Article)
	}
	if !strings.Contains(resp.Article.HTML, "<br") {
		t.Fatalf("html = %q", resp.Article.HTML)
	}

	rec = h.get(JSONPath + "?slug=hello&secret=bad")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("X-Preview-Status"); got != "unauthorized" {
		t.Fatalf("X-Preview-Status = %q", got)
	}
	if got := rec.Header().Get("X-Preview-Article"); got != "" {
		t.Fatalf("X-Preview-Article = %q", got)
	}
	resp = ViewResponse{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "unauthorized" || resp.Message != preview.MsgUnauthorized || resp.Article != nil {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		st   preview.ViewState
		want int
	}{
		{preview.LoadingState(), 200},
		{preview.LoadedState(preview.Article{}), 200},
		{preview.UnauthorizedState(), 401},
		{preview.NotFoundState(), 404},
		{preview.FetchFailedState(), 502},
	}
	for _, tt := range tests {
		if got := StatusCode(tt.st); got != tt.want {
			t.Errorf("StatusCode(%s) = %d, want %d", tt.st.Status, got, tt.want)
		}
	}
}

type stubFetcher struct{}

func (stubFetcher) FetchPreview(context.Context, preview.Params) preview.ViewState {
	return preview.NotFoundState()
}

func TestNewViewResponse_NormalizesRawContent(t *testing.T) {
	resp := NewViewResponse(preview.LoadedState(preview.Article{ID: 3, Title: "T", Content: `one\ntwo`}))
	if resp.Article == nil {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Article.Content != "one\ntwo" {
		t.Fatalf("content = %q", resp.Article.Content)
	}
	if !strings.Contains(resp.Article.HTML, "one<br") {
		t.Fatalf("html = %q", resp.Article.HTML)
	}
}
