package httpmw

import (
	"net/http"
	"strings"
)

// Security note: no CSRF protection, the server is stateless and GET only.

// SecurityOptions configures SecurityHeaders.
type SecurityOptions struct {
	// ImageSources are extra CSP img-src entries, typically the content
	// API origin serving article images.
	ImageSources []string

	// DisableHSTS turns off Strict-Transport-Security for plain-http dev setups.
	DisableHSTS bool
}

// SecurityHeaders sets the baseline headers on every response. Handlers may
// tighten them (the preview page sets Referrer-Policy: no-referrer).
func SecurityHeaders(opts SecurityOptions) func(http.Handler) http.Handler {
	csp := buildCSP(opts.ImageSources)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if !opts.DisableHSTS {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			h.Set("Content-Security-Policy", csp)
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "accelerometer=(), camera=(), geolocation=(), gyroscope=(), magnetometer=(), microphone=(), payment=(), usb=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
			h.Set("Cross-Origin-Opener-Policy", "same-origin")
			h.Set("Cross-Origin-Resource-Policy", "same-origin")
			// no Cross-Origin-Embedder-Policy: article images come from the CMS origin without CORP headers
			next.ServeHTTP(w, r)
		})
	}
}

func buildCSP(imageSources []string) string {
	img := []string{"'self'", "data:"}
	for _, s := range imageSources {
		if s = strings.TrimSpace(s); s != "" && !strings.ContainsAny(s, ";,\r\n") {
			img = append(img, s)
		}
	}
	return "default-src 'self'; script-src 'none'; style-src 'self'; img-src " + strings.Join(img, " ") +
		"; font-src 'self'; base-uri 'none'; form-action 'none'; frame-ancestors 'none'; object-src 'none'"
}

// NoIndex marks responses as private, uncacheable and not for search engines.
func NoIndex(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Cache-Control", "no-store")
		h.Set("X-Robots-Tag", "noindex, nofollow")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
