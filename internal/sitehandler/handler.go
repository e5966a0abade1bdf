// Package sitehandler serves the embedded stylesheet and icons used by the
// preview page, and a static 404 page for every other unmatched path.
package sitehandler

import (
	"io/fs"
	"net/http"
)

type Handler struct {
	opts Options
}

func New(opts *Options) (*Handler, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Handler{opts: *opts}, nil
}

// AssetPrefix is the URL path the assets are mounted under.
func (h *Handler) AssetPrefix() string { return h.opts.AssetPrefix }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		h.MethodNotAllowed(w, r)
		return
	}

	file, ok := resolveAsset(r.URL.Path, h.opts.AssetPrefix, h.opts.Assets)
	if !ok {
		h.NotFound(w, r)
		return
	}
	if cc := cacheControlForFile(file, &h.opts); cc != "" {
		w.Header().Set("Cache-Control", cc)
	}
	http.ServeFileFS(w, r, h.opts.Assets, file)
}

// MethodNotAllowed is also installed as the router's 405 handler.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Allow", "GET, HEAD")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusMethodNotAllowed)
}

func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")

	body, err := fs.ReadFile(h.opts.FallbackFS, h.opts.Fallback404File)
	if err != nil {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("404 page not found"))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	if r.Method != http.MethodHead {
		_, _ = w.Write(body)
	}
}
