package httpmw

import (
	"net/http"
	"runtime/debug"

	"github.com/seaword/apicore/internal/log"
	"github.com/seaword/apicore/internal/xerrors"
)

// Recover turns handler panics into logged 500 responses instead of killed
// connections. onPanic, when non-nil, is invoked after logging (used to bump
// the panic counter).
func Recover(base log.Logger, onPanic func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				// http.ErrAbortHandler is the sanctioned way to abort a
				// response; re-panic so the server handles it normally.
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				err, ok := rec.(error)
				if !ok {
					err = xerrors.Newf("panic: %v", rec)
				}

				L := log.FromContext(r.Context())
				if L == nil {
					L = base
				}
				L.Error(r.Context(), err, "panic recovered",
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
					"stack", string(debug.Stack()),
				)

				if onPanic != nil {
					onPanic()
				}

				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
