package sitehandler

import (
	"io/fs"
	"path"
	"strings"

	"github.com/keithlinneman/linnemanlabs-preview/internal/pathutil"
)

// resolveAsset maps a URL path under prefix to a regular file in fsys.
// Directories, ambiguous paths and anything outside prefix are rejected.
func resolveAsset(urlPath, prefix string, fsys fs.FS) (string, bool) {
	if !strings.HasPrefix(urlPath, prefix) {
		return "", false
	}
	if strings.ContainsAny(urlPath, "\x00\\") || strings.Contains(urlPath, "..") {
		return "", false
	}
	if pathutil.HasDotSegments(urlPath) {
		return "", false
	}
	rel := strings.TrimPrefix(urlPath, prefix)
	if rel == "" || strings.HasSuffix(rel, "/") {
		return "", false
	}
	// reject non-canonical forms like /assets//x.css
	if path.Clean("/"+rel) != "/"+rel {
		return "", false
	}
	if !existsFile(fsys, rel) {
		return "", false
	}
	return rel, true
}

func existsFile(fsys fs.FS, name string) bool {
	if name == "" || !fs.ValidPath(name) {
		return false
	}
	info, err := fs.Stat(fsys, name)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
