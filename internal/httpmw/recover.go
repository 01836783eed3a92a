package httpmw

import (
	"fmt"
	"net/http"

	"github.com/jspheredev/jsphere-gateway/internal/log"
	"github.com/jspheredev/jsphere-gateway/internal/xerrors"
)

// Recover answers 500 when a handler outside the dispatch chain panics.
// Panics inside the chain are caught per dispatch handler and never get
// here. onPanic, if set, runs after the panic is logged.
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
				// net/http aborts the connection on this one
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				err, ok := rec.(error)
				if ok {
					err = xerrors.Wrap(err, "panic")
				} else {
					err = xerrors.New("panic: " + fmt.Sprint(rec))
				}
				logger.Error(r.Context(), err, "panic recovered",
					"tenant_host", requestHost(r.Host), "http.request.method", r.Method, "url.path", r.URL.Path)
				if onPanic != nil {
					onPanic()
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
