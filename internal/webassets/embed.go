package webassets

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed templates static fallback
var embedded embed.FS

func sub(dir string) fs.FS {
	s, err := fs.Sub(embedded, dir)
	if err != nil {
		panic(fmt.Errorf("webassets: %s subfs: %w", dir, err))
	}
	return s
}

// TemplatesFS holds the html/template files for the preview page.
func TemplatesFS() fs.FS { return sub("templates") }

// StaticFS holds the stylesheet, icons and favicon served under /assets/.
func StaticFS() fs.FS { return sub("static") }

// FallbackFS holds the plain error pages served outside the preview route.
func FallbackFS() fs.FS { return sub("fallback") }
