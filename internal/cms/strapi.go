package cms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/linnemanlabs-preview/internal/log"
	"github.com/keithlinneman/linnemanlabs-preview/internal/preview"
	"github.com/keithlinneman/linnemanlabs-preview/internal/version"
	"github.com/keithlinneman/linnemanlabs-preview/internal/xerrors"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxBodyBytes = 4 << 20
	defaultRetryWait    = 200 * time.Millisecond
)

// StatusError is returned for a non-2xx response from the content API.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("content api returned status %d", e.Code)
}

// retryable reports whether a later attempt could plausibly succeed.
func (e *StatusError) retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout
}

// ErrBodyTooLarge is returned when a response exceeds MaxBodyBytes.
var ErrBodyTooLarge = errors.New("content api response too large")

type StrapiOptions struct {
	Logger log.Logger

	// BaseURL is the API root, e.g. https://cms.example.com
	BaseURL string

	// APIToken is sent as a bearer token when set
	APIToken string

	// HTTPClient defaults to a client with an otelhttp transport
	HTTPClient *http.Client

	// Timeout bounds each attempt, not the whole retry sequence
	Timeout time.Duration

	// Retries is the number of extra attempts after a retryable failure
	Retries int

	// RetryWait is the first backoff interval
	RetryWait time.Duration

	MaxBodyBytes int64

	// OnRetry is called before each retry
	OnRetry func()
}

// StrapiClient implements preview.Source against the Strapi REST API.
type StrapiClient struct {
	base      *url.URL
	token     string
	hc        *http.Client
	logger    log.Logger
	timeout   time.Duration
	retries   int
	retryWait time.Duration
	maxBody   int64
	onRetry   func()
}

func NewStrapiClient(opts StrapiOptions) (*StrapiClient, error) {
	if opts.BaseURL == "" {
		return nil, xerrors.New("cms: BaseURL is required")
	}
	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, xerrors.Wrapf(err, "cms: parse base url %q", opts.BaseURL)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, xerrors.Newf("cms: base url must be an absolute http(s) url, got %q", opts.BaseURL)
	}
	if opts.Retries < 0 {
		return nil, xerrors.Newf("cms: retries must be >= 0, got %d", opts.Retries)
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = defaultRetryWait
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	return &StrapiClient{
		base:      u,
		token:     opts.APIToken,
		hc:        opts.HTTPClient,
		logger:    opts.Logger,
		timeout:   opts.Timeout,
		retries:   opts.Retries,
		retryWait: opts.RetryWait,
		maxBody:   opts.MaxBodyBytes,
		onRetry:   opts.OnRetry,
	}, nil
}

// draftsURL builds {base}/api/articles?filters[slug][$eq]={slug}&publicationState=preview
// with the slug percent-encoded.
func (c *StrapiClient) draftsURL(slug string) string {
	u := c.base.JoinPath("api", "articles")
	q := url.Values{}
	q.Set("filters[slug][$eq]", slug)
	q.Set("publicationState", "preview")
	u.RawQuery = q.Encode()
	return u.String()
}

type listResponse struct {
	Data []preview.Article `json:"data"`
}

// FindDrafts issues one logical request for slug, retried on transport
// errors and retryable statuses up to the configured number of retries.
func (c *StrapiClient) FindDrafts(ctx context.Context, slug string) ([]preview.Article, error) {
	target := c.draftsURL(slug)
	L := log.FromContextOr(ctx, c.logger)

	op := func() ([]preview.Article, error) {
		articles, err := c.fetchOnce(ctx, target)
		if err == nil {
			return articles, nil
		}
		var se *StatusError
		if errors.As(err, &se) && !se.retryable() {
			return nil, backoff.Permanent(err)
		}
		if errors.Is(err, ErrBodyTooLarge) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	b := newBackOff(c.retryWait)

	articles, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.retries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			L.Warn(ctx, "content api request failed, retrying", "slug", slug, "err", err.Error(), "retry_in", next.String())
			if c.onRetry != nil {
				c.onRetry()
			}
		}),
	)
	if err != nil {
		return nil, xerrors.Wrapf(err, "find drafts for slug %q", slug)
	}
	return articles, nil
}

func newBackOff(initial time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	return b
}

// WorstCaseFetch is the longest one FindDrafts call can take with the
// default retry wait: every attempt runs into timeout and every backoff
// interval is drawn at its randomized maximum.
func WorstCaseFetch(timeout time.Duration, retries int) time.Duration {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	b := newBackOff(defaultRetryWait)
	total := timeout * time.Duration(retries+1)
	interval := b.InitialInterval
	for range retries {
		total += time.Duration(float64(interval) * (1 + b.RandomizationFactor))
		interval = min(time.Duration(float64(interval)*b.Multiplier), b.MaxInterval)
	}
	return total
}

func (c *StrapiClient) fetchOnce(ctx context.Context, target string) ([]preview.Article, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, xerrors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.AppName+"/"+version.Get().Version)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(err, "content api request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{Code: resp.StatusCode}
	}

	return decodeList(resp.Body, c.maxBody)
}

// decodeList reads at most max bytes of a {"data": [...]} document.
func decodeList(r io.Reader, max int64) ([]preview.Article, error) {
	body, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, xerrors.Wrap(err, "read content api response")
	}
	if int64(len(body)) > max {
		return nil, ErrBodyTooLarge
	}
	var lr listResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return nil, xerrors.Wrap(err, "decode content api response")
	}
	return lr.Data, nil
}

// Ping checks that the Strapi instance answers its health endpoint. It is a
// single attempt bounded by the client timeout and never retried.
func (c *StrapiClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.JoinPath("_health").String(), nil)
	if err != nil {
		return xerrors.Wrap(err, "build health request")
	}
	req.Header.Set("User-Agent", version.AppName+"/"+version.Get().Version)

	resp, err := c.hc.Do(req)
	if err != nil {
		return xerrors.Wrap(err, "content api health request")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}
