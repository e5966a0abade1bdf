package cms

import (
	"context"
	"errors"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/keithlinneman/linnemanlabs-preview/internal/log"
	"github.com/keithlinneman/linnemanlabs-preview/internal/pathutil"
	"github.com/keithlinneman/linnemanlabs-preview/internal/preview"
	"github.com/keithlinneman/linnemanlabs-preview/internal/xerrors"
)

// S3API is the subset of the S3 client used by S3Source.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

type S3Options struct {
	Logger       log.Logger
	Client       S3API
	Bucket       string
	Prefix       string
	MaxBodyBytes int64
}

// S3Source implements preview.Source over a static draft export.
type S3Source struct {
	client  S3API
	bucket  string
	prefix  string
	maxBody int64
	logger  log.Logger
}

func NewS3Source(opts S3Options) (*S3Source, error) {
	if opts.Client == nil {
		return nil, xerrors.New("cms: s3 client is required")
	}
	if opts.Bucket == "" {
		return nil, xerrors.New("cms: s3 bucket is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &S3Source{
		client:  opts.Client,
		bucket:  opts.Bucket,
		prefix:  strings.Trim(opts.Prefix, "/"),
		maxBody: opts.MaxBodyBytes,
		logger:  opts.Logger,
	}, nil
}

// ParseS3URL splits s3://bucket/some/prefix into bucket and prefix.
func ParseS3URL(raw string) (bucket, prefix string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", xerrors.Wrapf(err, "parse s3 url %q", raw)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", xerrors.Newf("not an s3 url: %q", raw)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

func (s *S3Source) key(slug string) string {
	if s.prefix == "" {
		return slug + ".json"
	}
	return path.Join(s.prefix, slug+".json")
}

// FindDrafts returns the records in {prefix}/{slug}.json. A missing object
// or a slug that is not a single path segment yields zero records.
func (s *S3Source) FindDrafts(ctx context.Context, slug string) ([]preview.Article, error) {
	L := log.FromContextOr(ctx, s.logger)
	if !pathutil.IsSingleSegment(slug) {
		L.Debug(ctx, "slug is not a single key segment", "slug", slug)
		return nil, nil
	}
	key := s.key(slug)

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil
		}
		return nil, xerrors.Wrapf(err, "get S3 object s3://%s/%s", s.bucket, key)
	}
	defer out.Body.Close()

	articles, err := decodeList(out.Body, s.maxBody)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read s3://%s/%s", s.bucket, key)
	}
	return articles, nil
}

// Ping checks that the export bucket exists and is reachable with the
// configured credentials.
func (s *S3Source) Ping(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return xerrors.Wrapf(err, "head bucket %s", s.bucket)
	}
	return nil
}
