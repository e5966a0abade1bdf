package sitehandler

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/keithlinneman/linnemanlabs-preview/internal/log"
)

var ErrInvalidOptions = errors.New("sitehandler: invalid options")

type Options struct {
	Logger log.Logger
	// Assets is served under AssetPrefix (stylesheet, icons, favicon)
	Assets fs.FS
	// FallbackFS holds the 404 page for everything outside the asset tree
	FallbackFS fs.FS

	AssetPrefix     string // default: "/assets/"
	Fallback404File string // default: "404.html"

	// Cache policies applied by file extension.
	HTMLCacheControl  string // default: "no-cache"
	AssetCacheControl string // default: "public, max-age=86400"
	OtherCacheControl string // default: "public, max-age=3600"
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.AssetPrefix == "" {
		o.AssetPrefix = "/assets/"
	}
	if !strings.HasSuffix(o.AssetPrefix, "/") {
		o.AssetPrefix += "/"
	}
	if o.Fallback404File == "" {
		o.Fallback404File = "404.html"
	}
	if o.HTMLCacheControl == "" {
		o.HTMLCacheControl = "no-cache"
	}
	// asset names are not content-hashed, so no immutable
	if o.AssetCacheControl == "" {
		o.AssetCacheControl = "public, max-age=86400"
	}
	if o.OtherCacheControl == "" {
		o.OtherCacheControl = "public, max-age=3600"
	}
}

func (o *Options) validate() error {
	if o.Assets == nil {
		return fmt.Errorf("%w: Assets is nil", ErrInvalidOptions)
	}
	if o.FallbackFS == nil {
		return fmt.Errorf("%w: FallbackFS is nil", ErrInvalidOptions)
	}
	if !strings.HasPrefix(o.AssetPrefix, "/") {
		return fmt.Errorf("%w: AssetPrefix %q must be absolute", ErrInvalidOptions, o.AssetPrefix)
	}
	// fallback 404 is optional, we degrade to plain text
	return nil
}
