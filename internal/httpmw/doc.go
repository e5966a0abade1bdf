// Package httpmw provides HTTP middleware for the preview server.
//
// httpserver composes them outermost first: recover, security headers,
// query sealing, request ID, client IP, rate limiting, tracing, metrics,
// request logger, access log, max body. Each middleware is a plain
// func(http.Handler) http.Handler and can be tested on its own.
//
// The preview secret travels in the query string. SealQuery lifts it out of
// the URL before tracing and logging see the request, so it never reaches a
// span attribute or a log line.
package httpmw
