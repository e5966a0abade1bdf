package webassets

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedFiles(t *testing.T) {
	tests := []struct {
		name string
		fsys fs.FS
		file string
	}{
		{"page template", TemplatesFS(), "page.html"},
		{"stylesheet", StaticFS(), "preview.css"},
		{"loader icon", StaticFS(), "loader.svg"},
		{"alert icon", StaticFS(), "alert-circle.svg"},
		{"favicon", StaticFS(), "favicon.svg"},
		{"404 page", FallbackFS(), "404.html"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := fs.Stat(tt.fsys, tt.file)
			if err != nil {
				t.Fatalf("%s: %v", tt.file, err)
			}
			if info.IsDir() || info.Size() == 0 {
				t.Fatalf("%s is a directory or empty", tt.file)
			}
		})
	}
}

func TestPageTemplate_DefinesPage(t *testing.T) {
	data, err := fs.ReadFile(TemplatesFS(), "page.html")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `{{define "page"}}`) {
		t.Fatal(`page.html must define the "page" template`)
	}
}

func TestStaticFS_NoTemplatesLeak(t *testing.T) {
	if _, err := fs.Stat(StaticFS(), "page.html"); err == nil {
		t.Fatal("templates must not be served as static assets")
	}
}
