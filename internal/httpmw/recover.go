package httpmw

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/keithlinneman/linnemanlabs-preview/internal/log"
	"github.com/keithlinneman/linnemanlabs-preview/internal/xerrors"
)

// Recover turns a handler panic into a 500, logs it with the stack and calls
// onPanic (may be nil). http.ErrAbortHandler is re-panicked so net/http can
// abort the connection as intended.
func Recover(logger log.Logger, onPanic func()) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				if onPanic != nil {
					onPanic()
				}

				err, ok := rec.(error)
				if !ok {
					err = fmt.Errorf("%v", rec)
				}
				ctx := r.Context()
				log.FromContextOr(ctx, logger).Error(ctx, xerrors.WithStack(err), "httpserver panic recovered",
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
					"panic_stack", string(debug.Stack()),
				)

				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.Header().Set("Cache-Control", "no-store")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte("internal server error\n"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
