// Package preview turns a (slug, secret) pair from a page URL into one of the
// view states of a draft article preview.
//
// The flow for one page view is:
//
//	Params -> Derive -> FetchRequest -> Fetcher.FetchPreview -> Session.Resolve
//
// [Controller] runs that flow as a small event loop. Each parameter change
// starts a new attempt; results from older attempts are discarded so a late
// response can never overwrite the state of newer parameters.
package preview
