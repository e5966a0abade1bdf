package preview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-preview/internal/log"
	"github.com/keithlinneman/linnemanlabs-preview/internal/xerrors"
)

// Source returns every draft record whose slug equals the given slug.
// Zero records is not an error.
type Source interface {
	FindDrafts(ctx context.Context, slug string) ([]Article, error)
}

// DuplicatePolicy decides what happens when more than one draft shares a slug.
type DuplicatePolicy string

const (
	// DuplicatesFirst shows the first record in response order.
	DuplicatesFirst DuplicatePolicy = "first"
	// DuplicatesReject treats an ambiguous slug as a failed fetch.
	DuplicatesReject DuplicatePolicy = "reject"
)

func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", DuplicatesFirst:
		return DuplicatesFirst, nil
	case DuplicatesReject:
		return DuplicatesReject, nil
	default:
		return "", fmt.Errorf("unknown duplicate policy %q (valid policies are first|reject)", s)
	}
}

// ErrAmbiguousSlug is logged when DuplicatesReject refuses a slug with several drafts.
var ErrAmbiguousSlug = errors.New("multiple drafts share the slug")

// FetchObserver receives one observation per completed fetch.
type FetchObserver interface {
	ObserveFetch(outcome string, d time.Duration)
}

// PreviewFetcher is what the controller needs from a fetcher.
type PreviewFetcher interface {
	FetchPreview(ctx context.Context, p Params) ViewState
}

type FetcherOptions struct {
	Config     Config
	Source     Source
	Logger     log.Logger
	Duplicates DuplicatePolicy
	Observer   FetchObserver
}

// Fetcher authorizes params against the configured secret and resolves them
// to a terminal ViewState with at most one Source call.
type Fetcher struct {
	secret     string
	src        Source
	logger     log.Logger
	duplicates DuplicatePolicy
	observer   FetchObserver
	tracer     trace.Tracer
}

func NewFetcher(opts FetcherOptions) (*Fetcher, error) {
	if opts.Config.PreviewSecret == "" {
		return nil, xerrors.New("preview: fetcher requires a preview secret")
	}
	if opts.Source == nil {
		return nil, xerrors.New("preview: fetcher requires a content source")
	}
	dup := opts.Duplicates
	if dup == "" {
		dup = DuplicatesFirst
	}
	if dup != DuplicatesFirst && dup != DuplicatesReject {
		return nil, xerrors.Newf("preview: unknown duplicate policy %q", dup)
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Fetcher{
		secret:     opts.Config.PreviewSecret,
		src:        opts.Source,
		logger:     opts.Logger,
		duplicates: dup,
		observer:   opts.Observer,
		tracer:     otel.Tracer("linnemanlabs-preview/preview"),
	}, nil
}

// FetchPreview never returns Loading. Unauthorized params never reach the
// Source. The secret is never logged or recorded on spans.
func (f *Fetcher) FetchPreview(ctx context.Context, p Params) ViewState {
	L := log.FromContextOr(ctx, f.logger)

	if !Authorize(f.secret, p) {
		L.Info(ctx, "preview denied", "slug_present", p.Slug.Present, "secret_present", p.Secret.Present)
		f.observe(StatusUnauthorized, 0)
		return UnauthorizedState()
	}

	ctx, span := f.tracer.Start(ctx, "preview.fetch",
		trace.WithAttributes(attribute.String("preview.slug", p.Slug.Value)))
	defer span.End()

	start := time.Now()
	st := f.resolve(ctx, L, p.Slug.Value)
	f.observe(st.Status, time.Since(start))

	span.SetAttributes(attribute.String("preview.outcome", st.Status.String()))
	if st.Status == StatusFetchFailed {
		span.SetStatus(codes.Error, st.Message)
	}
	return st
}

func (f *Fetcher) resolve(ctx context.Context, L log.Logger, slug string) ViewState {
	articles, err := f.src.FindDrafts(ctx, slug)
	if err != nil {
		L.Error(ctx, err, "preview fetch failed", "slug", slug)
		return FetchFailedState()
	}

	switch {
	case len(articles) == 0:
		L.Debug(ctx, "preview draft not found", "slug", slug)
		return NotFoundState()
	case len(articles) > 1 && f.duplicates == DuplicatesReject:
		L.Error(ctx, xerrors.Wrapf(ErrAmbiguousSlug, "slug %q matched %d drafts", slug, len(articles)), "preview fetch rejected", "slug", slug)
		return FetchFailedState()
	case len(articles) > 1:
		L.Warn(ctx, "multiple drafts share slug, showing first", "slug", slug, "matches", len(articles))
	}

	return LoadedState(articles[0])
}

func (f *Fetcher) observe(s Status, d time.Duration) {
	if f.observer != nil {
		f.observer.ObserveFetch(s.String(), d)
	}
}
