// Package secrets resolves the preview secret from SSM Parameter Store.
package secrets

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-preview/internal/log"
	"github.com/keithlinneman/linnemanlabs-preview/internal/xerrors"
)

// SSMAPI is the subset of the SSM client used here.
type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, opts ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type Options struct {
	Logger log.Logger

	// Client overrides the SSM client, AWSConfig is ignored when set
	Client SSMAPI

	// AWS config (uses default if nil)
	AWSConfig *aws.Config
}

type Resolver struct {
	client SSMAPI
	logger log.Logger
}

func NewResolver(ctx context.Context, opts Options) (*Resolver, error) {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	client := opts.Client
	if client == nil {
		var awsCfg aws.Config
		if opts.AWSConfig != nil {
			awsCfg = *opts.AWSConfig
		} else {
			var err error
			awsCfg, err = config.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, xerrors.Wrap(err, "load AWS config")
			}
		}
		client = ssm.NewFromConfig(awsCfg)
	}
	return &Resolver{client: client, logger: opts.Logger}, nil
}

// Resolve reads a SecureString parameter with decryption. Surrounding
// whitespace is trimmed; an empty value is an error so the preview gate
// never runs with an unset secret.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", xerrors.New("ssm parameter name is required")
	}
	out, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", name)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", name)
	}
	v := strings.TrimSpace(*out.Parameter.Value)
	if v == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", name)
	}

	r.logger.Info(ctx, "preview secret resolved", "ssm_param", name, "version", out.Parameter.Version)
	return v, nil
}
