package httpmw

import (
	"context"
	"net/http"
	"net/url"
)

type sealedKey struct{}

// SealQuery removes the named query parameters from the request URL and
// keeps them in the context, where SealedQuery returns them. Everything
// after this middleware (tracing, access logs, metrics) sees a URL without
// them.
func SealQuery(names ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.RawQuery == "" || len(names) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			q := r.URL.Query()
			sealed := url.Values{}
			for _, n := range names {
				if vs, ok := q[n]; ok {
					sealed[n] = vs
					q.Del(n)
				}
			}
			if len(sealed) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			r2 := r.Clone(context.WithValue(r.Context(), sealedKey{}, sealed))
			r2.URL.RawQuery = q.Encode()
			r2.RequestURI = r2.URL.RequestURI()
			next.ServeHTTP(w, r2)
		})
	}
}

// SealedQuery returns the parameters lifted by SealQuery, or nil.
func SealedQuery(ctx context.Context) url.Values {
	v, _ := ctx.Value(sealedKey{}).(url.Values)
	return v
}

// FullQuery merges the visible query of r with its sealed parameters.
func FullQuery(r *http.Request) url.Values {
	q := r.URL.Query()
	for k, vs := range SealedQuery(r.Context()) {
		q[k] = vs
	}
	return q
}
