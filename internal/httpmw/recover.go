package httpmw

import (
	"net/http"

	"github.com/dydhzo/wastream/internal/log"
	"github.com/dydhzo/wastream/internal/xerrors"
)

// Recover converts handler panics into 500 responses. The panic is
// logged with the request method and path; onPanic (optional) fires on
// every recovery, typically incrementing a metric.
//
// Recover sits outermost in the chain so the access log below it can
// observe and re-raise the panic before this catches it.
func Recover(lg log.Logger, onPanic func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				if p == http.ErrAbortHandler {
					// client went away mid-write, let the server handle it
					panic(p)
				}

				var err error
				if e, ok := p.(error); ok {
					err = xerrors.WithStack(e)
				} else {
					err = xerrors.Newf("panic: %v", p)
				}

				lg.With(
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
				).Error(r.Context(), err, "httpserver panic recovered")

				if onPanic != nil {
					onPanic()
				}

				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
