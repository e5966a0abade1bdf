package cms

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/keithlinneman/linnemanlabs-preview/internal/log"
	"github.com/keithlinneman/linnemanlabs-preview/internal/preview"
	"github.com/keithlinneman/linnemanlabs-preview/internal/xerrors"
)

// Pinger is implemented by sources that can cheaply check reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Logger   log.Logger
	BaseURL  string
	APIToken string
	Timeout  time.Duration
	Retries  int
	OnRetry  func()

	// HTTPClient overrides the Strapi client transport
	HTTPClient *http.Client

	// S3Client overrides the client built from the default AWS config
	S3Client S3API

	// AWSConfig is used to build the S3 client when S3Client is nil
	AWSConfig *aws.Config
}

// New returns the preview.Source for opts.BaseURL: S3Source for s3:// URLs,
// StrapiClient for http(s).
func New(ctx context.Context, opts Options) (preview.Source, error) {
	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, xerrors.Wrapf(err, "cms: parse base url %q", opts.BaseURL)
	}

	switch u.Scheme {
	case "http", "https":
		sc, err := NewStrapiClient(StrapiOptions{
			Logger:     opts.Logger,
			BaseURL:    opts.BaseURL,
			APIToken:   opts.APIToken,
			HTTPClient: opts.HTTPClient,
			Timeout:    opts.Timeout,
			Retries:    opts.Retries,
			OnRetry:    opts.OnRetry,
		})
		if err != nil {
			return nil, err
		}
		return sc, nil
	case "s3":
		bucket, prefix, err := ParseS3URL(opts.BaseURL)
		if err != nil {
			return nil, err
		}
		client := opts.S3Client
		if client == nil {
			awsCfg, err := loadAWSConfig(ctx, opts.AWSConfig)
			if err != nil {
				return nil, err
			}
			client = s3.NewFromConfig(awsCfg)
		}
		src, err := NewS3Source(S3Options{
			Logger: opts.Logger,
			Client: client,
			Bucket: bucket,
			Prefix: prefix,
		})
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, xerrors.Newf("cms: unsupported content base url scheme %q", u.Scheme)
	}
}

func loadAWSConfig(ctx context.Context, override *aws.Config) (aws.Config, error) {
	if override != nil {
		return *override, nil
	}
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, xerrors.Wrap(err, "load AWS config")
	}
	return awsCfg, nil
}
