package sitehandler

import (
	"path"
	"strings"
)

func cacheControlForFile(name string, o *Options) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".html", "":
		return o.HTMLCacheControl
	case ".css", ".svg", ".ico", ".png", ".webp", ".woff2":
		return o.AssetCacheControl
	default:
		return o.OtherCacheControl
	}
}
