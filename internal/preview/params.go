package preview

import "net/url"

// Optional is a query value that may be absent.
type Optional struct {
	Value   string
	Present bool
}

// Some returns a present Optional.
func Some(v string) Optional { return Optional{Value: v, Present: true} }

// Params is the (slug, secret) pair read from the page URL.
type Params struct {
	Slug   Optional
	Secret Optional
}

// ParamsFromQuery reads slug and secret from q. An empty slug counts as
// absent; an empty secret is present (and will simply not match).
func ParamsFromQuery(q url.Values) Params {
	var p Params
	if v := q.Get("slug"); v != "" {
		p.Slug = Some(v)
	}
	if q.Has("secret") {
		p.Secret = Some(q.Get("secret"))
	}
	return p
}

// ParamsFromURL is ParamsFromQuery on u's query string. A nil URL yields
// empty params.
func ParamsFromURL(u *url.URL) Params {
	if u == nil {
		return Params{}
	}
	return ParamsFromQuery(u.Query())
}
