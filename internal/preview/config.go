package preview

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
)

// Config is injected into the fetcher at construction and never changes
// afterwards.
type Config struct {
	// PreviewSecret is the deployer-held value the secret query parameter must equal.
	PreviewSecret string
	// ContentBaseURL is the root of the content API (http/https) or a static export (s3://bucket/prefix).
	ContentBaseURL string
}

func (c Config) Validate() error {
	var errs []error
	if c.PreviewSecret == "" {
		errs = append(errs, errors.New("preview secret is required"))
	}
	if c.ContentBaseURL == "" {
		errs = append(errs, errors.New("content base url is required"))
	} else if u, err := url.Parse(c.ContentBaseURL); err != nil || u.Host == "" {
		errs = append(errs, fmt.Errorf("content base url must be absolute (got %q)", c.ContentBaseURL))
	} else if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "s3" {
		errs = append(errs, fmt.Errorf("content base url scheme must be http, https or s3 (got %q)", u.Scheme))
	}
	return errors.Join(errs...)
}

// Authorize is the preview gate. It fails closed: a missing slug, a missing
// secret or an unset configured secret all deny. The comparison is exact and
// case-sensitive with no trimming.
func Authorize(previewSecret string, p Params) bool {
	if previewSecret == "" || !p.Slug.Present || !p.Secret.Present {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(p.Secret.Value), []byte(previewSecret)) == 1
}
