package cms

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, srv *httptest.Server, mod func(*StrapiOptions)) *StrapiClient {
	t.Helper()
	opts := StrapiOptions{
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		RetryWait:  time.Millisecond,
	}
	if mod != nil {
		mod(&opts)
	}
	c, err := NewStrapiClient(opts)
	if err != nil {
		t.Fatalf("NewStrapiClient: %v", err)
	}
	return c
}

func TestNewStrapiClient_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts StrapiOptions
	}{
		{"missing base", StrapiOptions{}},
		{"relative base", StrapiOptions{BaseURL: "/cms"}},
		{"wrong scheme", StrapiOptions{BaseURL: "s3://bucket"}},
		{"negative retries", StrapiOptions{BaseURL: "https://cms.example.com", Retries: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewStrapiClient(tt.opts); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestDraftsURL(t *testing.T) {
	tests := []struct {
		base, slug, want string
	}{
		{
			"https://cms.example.com", "hello",
			"https://cms.example.com/api/articles?filters%5Bslug%5D%5B%24eq%5D=hello&publicationState=preview",
		},
		{
			"https://cms.example.com/strapi/", "a b&c",
			"https://cms.example.com/strapi/api/articles?filters%5Bslug%5D%5B%24eq%5D=a+b%26c&publicationState=preview",
		},
	}
	for _, tt := range tests {
		c, err := NewStrapiClient(StrapiOptions{BaseURL: tt.base})
		if err != nil {
			t.Fatal(err)
		}
		if got := c.draftsURL(tt.slug); got != tt.want {
			t.Errorf("draftsURL(%q, %q) = %q, want %q", tt.base, tt.slug, got, tt.want)
		}
	}
}

func TestFindDrafts_RequestShape(t *testing.T) {
	var gotPath, gotSlug, gotState, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotSlug = r.URL.Query().Get("filters[slug][$eq]")
		gotState = r.URL.Query().Get("publicationState")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"id":3,"title":"Hi","content":"a\\nb","slug":"hi"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, func(o *StrapiOptions) { o.APIToken = "tok" })
	articles, err := c.FindDrafts(context.Background(), "hi there")
	if err != nil {
		t.Fatalf("FindDrafts: %v", err)
	}
	if gotPath != "/api/articles" || gotSlug != "hi there" || gotState != "preview" {
		t.Fatalf("request path=%q slug=%q state=%q", gotPath, gotSlug, gotState)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if len(articles) != 1 || articles[0].Title != "Hi" || articles[0].Content != `a\nb` {
		t.Fatalf("articles = %+v", articles)
	}
}

func TestFindDrafts_NoTokenNoAuthHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("unexpected Authorization header")
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	articles, err := newTestClient(t, srv, nil).FindDrafts(context.Background(), "x")
	if err != nil || len(articles) != 0 {
		t.Fatalf("got %v, %v", articles, err)
	}
}

func TestFindDrafts_AttributesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":1,"attributes":{"title":"V4","content":"c","slug":"v4"}}],"meta":{}}`))
	}))
	defer srv.Close()

	articles, err := newTestClient(t, srv, nil).FindDrafts(context.Background(), "v4")
	if err != nil {
		t.Fatal(err)
	}
	if len(articles) != 1 || articles[0].Title != "V4" || articles[0].ID != 1 {
		t.Fatalf("articles = %+v", articles)
	}
}

func TestFindDrafts_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, func(o *StrapiOptions) { o.Retries = 3 }).FindDrafts(context.Background(), "x")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusForbidden {
		t.Fatalf("err = %v, want StatusError 403", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestFindDrafts_ServerErrorRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"id":1,"title":"ok","slug":"x"}]}`))
	}))
	defer srv.Close()

	var retries atomic.Int32
	c := newTestClient(t, srv, func(o *StrapiOptions) {
		o.Retries = 2
		o.OnRetry = func() { retries.Add(1) }
	})
	articles, err := c.FindDrafts(context.Background(), "x")
	if err != nil {
		t.Fatalf("FindDrafts: %v", err)
	}
	if len(articles) != 1 || calls.Load() != 3 || retries.Load() != 2 {
		t.Fatalf("articles=%d calls=%d retries=%d", len(articles), calls.Load(), retries.Load())
	}
}

func TestFindDrafts_NoRetriesByDefault(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, nil).FindDrafts(context.Background(), "x")
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestFindDrafts_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	if _, err := newTestClient(t, srv, nil).FindDrafts(context.Background(), "x"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestFindDrafts_BodyTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"content":"` + strings.Repeat("x", 256) + `"}]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, func(o *StrapiOptions) { o.MaxBodyBytes = 64 }).FindDrafts(context.Background(), "x")
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("err = %v, want ErrBodyTooLarge", err)
	}
}

func TestFindDrafts_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, err := newTestClient(t, srv, func(o *StrapiOptions) { o.Timeout = 30 * time.Millisecond }).FindDrafts(context.Background(), "x")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout not enforced, took %v", time.Since(start))
	}
}

func TestPing(t *testing.T) {
	var path atomic.Value
	status := atomic.Int32{}
	status.Store(http.StatusNoContent)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if got := path.Load(); got != "/_health" {
		t.Fatalf("path = %v, want /_health", got)
	}

	status.Store(http.StatusServiceUnavailable)
	err := c.Ping(context.Background())
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable {
		t.Fatalf("Ping err = %v, want StatusError 503", err)
	}
}

func TestWorstCaseFetch(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		retries int
		want    time.Duration
	}{
		{"single attempt", 10 * time.Second, 0, 10 * time.Second},
		{"default timeout", 0, 0, DefaultTimeout},
		// backoff waits 200ms then 300ms, each up to 1.5x after jitter
		{"two retries", 3 * time.Second, 2, 9*time.Second + 300*time.Millisecond + 450*time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WorstCaseFetch(tt.timeout, tt.retries); got != tt.want {
				t.Fatalf("WorstCaseFetch(%s, %d) = %s, want %s", tt.timeout, tt.retries, got, tt.want)
			}
		})
	}
}
